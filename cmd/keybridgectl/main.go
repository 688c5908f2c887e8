package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/eiannone/keyboard"

	"keybridge/internal/common"
)

// interactiveKeys maps single keystrokes to control commands.
var interactiveKeys = map[rune]string{
	'p': "ping",
	's': "state",
	'h': "held",
	'r': "release-all",
	'l': "reload",
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "keybridgectl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	socketPath := flag.String("socket", common.DefaultSocketPath(), "unix socket of the keybridge daemon")
	timeout := flag.Duration("timeout", 2*time.Second, "time to wait for the daemon to answer")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: keybridgectl [-socket PATH] [ping|state|held|release-all|reload]\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Without a command, reads single keystrokes: p ping, s state, h held, r release-all, l reload, q quit.\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() > 0 {
		response, err := send(*socketPath, strings.Join(flag.Args(), " "), *timeout)
		if err != nil {
			return err
		}
		fmt.Println(response)
		if strings.HasPrefix(response, "error") {
			os.Exit(2)
		}
		return nil
	}
	return interactive(*socketPath, *timeout)
}

func interactive(socketPath string, timeout time.Duration) error {
	if err := keyboard.Open(); err != nil {
		return fmt.Errorf("open terminal: %w", err)
	}
	defer keyboard.Close()

	fmt.Printf("keybridgectl: connected to %s (p s h r l, q to quit)\r\n", socketPath)
	for {
		char, key, err := keyboard.GetKey()
		if err != nil {
			return err
		}
		if key == keyboard.KeyEsc || key == keyboard.KeyCtrlC || char == 'q' {
			return nil
		}
		command, ok := interactiveKeys[char]
		if !ok {
			continue
		}
		response, err := send(socketPath, command, timeout)
		if err != nil {
			fmt.Printf("%s: %v\r\n", command, err)
			continue
		}
		fmt.Printf("%s: %s\r\n", command, response)
	}
}

func send(socketPath, command string, timeout time.Duration) (string, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}

	if _, err := fmt.Fprintln(conn, command); err != nil {
		return "", err
	}

	reader := bufio.NewReader(conn)
	response, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(response, "\n"), nil
}
