package cli

import (
	"fmt"
	"strings"
)

type Options struct {
	ShowHelp    bool
	ListDevices bool
	ConfigPath  string
	DevicePaths []string
	Output      string
	KeymapPath  string
	SocketPath  string
	NoGrab      bool
	Repeat      bool
	Verbose     bool
	LogFormat   string
	Daemonize   bool
}

func Parse(args []string) (Options, error) {
	opts := Options{}
	for i := 1; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--help" || arg == "-h":
			opts.ShowHelp = true
		case arg == "--list-devices":
			opts.ListDevices = true
		case arg == "--no-grab":
			opts.NoGrab = true
		case arg == "--repeat":
			opts.Repeat = true
		case arg == "--daemon" || arg == "-d":
			opts.Daemonize = true
		case arg == "--verbose" || arg == "-v":
			opts.Verbose = true
		case hasOption(arg, "--config"):
			value, next, err := extractValue(arg, i, args)
			if err != nil {
				return Options{}, err
			}
			opts.ConfigPath = value
			i = next
		case hasOption(arg, "--device"):
			value, next, err := extractValue(arg, i, args)
			if err != nil {
				return Options{}, err
			}
			opts.DevicePaths = append(opts.DevicePaths, splitList(value)...)
			i = next
		case hasOption(arg, "--output"):
			value, next, err := extractValue(arg, i, args)
			if err != nil {
				return Options{}, err
			}
			opts.Output = value
			i = next
		case hasOption(arg, "--keymap"):
			value, next, err := extractValue(arg, i, args)
			if err != nil {
				return Options{}, err
			}
			opts.KeymapPath = value
			i = next
		case hasOption(arg, "--socket"):
			value, next, err := extractValue(arg, i, args)
			if err != nil {
				return Options{}, err
			}
			opts.SocketPath = value
			i = next
		case hasOption(arg, "--log-format"):
			value, next, err := extractValue(arg, i, args)
			if err != nil {
				return Options{}, err
			}
			opts.LogFormat = value
			i = next
		default:
			return Options{}, fmt.Errorf("unknown option: %s", arg)
		}
	}
	return opts, nil
}

// hasOption matches "--name" and "--name=value" but not "--name-suffix".
func hasOption(arg, name string) bool {
	return arg == name || strings.HasPrefix(arg, name+"=")
}

func extractValue(current string, index int, args []string) (string, int, error) {
	if eq := strings.IndexRune(current, '='); eq >= 0 {
		return current[eq+1:], index, nil
	}
	if index+1 >= len(args) {
		return "", index, fmt.Errorf("option %s requires a value", current)
	}
	return args[index+1], index + 1, nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func Usage() string {
	return `keybridge - forward local keyboard and pointer input to a remote-control sender
Usage: keybridge [--device /dev/input/eventX] [options]

Options:
  --config PATH           Configuration file (default: $KEYBRIDGE_CONFIG or ~/.config/keybridge/config.ini)
  --device PATH[,PATH]    Evdev device(s) to read; repeatable (auto-detected if omitted)
  --output NAME           Sender backend: uinput, x11 or log (default: [output] backend or uinput)
  --keymap PATH           File holding the xkb keymap description (overrides the config)
  --socket PATH           Control socket path (default: $XDG_RUNTIME_DIR/keybridge.sock)
  --no-grab               Do not take exclusive access to the devices
  --repeat                Forward kernel autorepeat as additional presses
  --log-format FORMAT     text or json
  -d, --daemon            Detach and run in the background
  -v, --verbose           Log every key and modifier update
  --list-devices          List detected keyboards and pointers
  -h, --help              Show this help message`
}
