package setup

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// CredentialPrompter supplies elevated credentials for provisioning.
type CredentialPrompter interface {
	AdminCredentials() (user, password string, err error)
}

// TerminalPrompter reads admin credentials from the controlling terminal,
// hiding the password while it is typed.
type TerminalPrompter struct {
	// DefaultUser is offered when the user presses enter ("postgres" when
	// empty).
	DefaultUser string
}

// AdminCredentials implements CredentialPrompter.
func (p TerminalPrompter) AdminCredentials() (string, string, error) {
	defaultUser := p.DefaultUser
	if defaultUser == "" {
		defaultUser = "postgres"
	}

	fmt.Printf("Admin username [%s]: ", defaultUser)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", "", fmt.Errorf("read admin username: %w", err)
	}
	user := strings.TrimSpace(line)
	if user == "" {
		user = defaultUser
	}

	fmt.Print("Admin password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", "", fmt.Errorf("read admin password: %w", err)
	}
	return user, string(raw), nil
}

// StaticPrompter returns fixed credentials. Useful for tests and automation.
type StaticPrompter struct {
	User     string
	Password string
}

// AdminCredentials implements CredentialPrompter.
func (p StaticPrompter) AdminCredentials() (string, string, error) {
	return p.User, p.Password, nil
}
