package prompt

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

const (
	userPrompt = "laniot-signer> $ "
)

func PrintBanner(version string) {
	color.New(color.FgGreen).Fprintf(os.Stderr, "LanIoT Signer v%s\n\n", version)
}

func PrintWarning(message string) {
	color.New(color.FgYellow).Fprintln(os.Stderr, message)
}

// Reads a secret from the terminal without echo
func PasswordPrompt(message string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("prompt: %s: stdin is not a terminal", message)
	}
	fmt.Fprintf(os.Stderr, "%s: \n", message)
	fmt.Fprint(os.Stderr, userPrompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return password, nil
}

func KeyPassword() ([]byte, error) {
	return PasswordPrompt("Intermediate CA key password")
}
