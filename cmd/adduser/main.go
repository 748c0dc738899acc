package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rongwang/debtbook-server/internal/auth"
	"github.com/rongwang/debtbook-server/internal/config"
	"github.com/rongwang/debtbook-server/internal/models"
	"github.com/rongwang/debtbook-server/internal/repository"
	"golang.org/x/term"
)

// opener connects the repository the account is written to
type opener func(cfg *config.Config) (repository.Repository, func(), error)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, openPostgres); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openPostgres(cfg *config.Config) (repository.Repository, func(), error) {
	db, err := config.SetupDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewPostgresRepository(db), func() { db.Close() }, nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer, open opener) error {
	fs := flag.NewFlagSet("adduser", flag.ContinueOnError)
	fs.SetOutput(stderr)

	loginID := fs.String("user", "", "Login id (usually an email address)")
	passwordFlag := fs.String("password", "", "Password (optional, will prompt if omitted)")
	name := fs.String("name", "", "Display name (optional)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *loginID == "" {
		fmt.Fprintln(stdout, "Usage: adduser -user <login id> [-password <password>] [-name <name>]")
		fs.PrintDefaults()
		return fmt.Errorf("missing required flags: user")
	}

	password := *passwordFlag
	if password == "" {
		fmt.Fprint(stdout, "Password: ")
		var err error
		password, err = readPassword(stdin)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(stdout) // Print newline after password input
	}

	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("password cannot be empty")
	}

	cfg := config.LoadConfig()

	hasher, err := auth.NewPasswordHasher(cfg.Auth.PasswordScheme, cfg.Auth.Salt)
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	repo, closeRepo, err := open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer closeRepo()

	user := &models.User{UserID: *loginID, Password: hash}
	if *name != "" {
		user.Name = name
	}

	if err := repo.CreateUser(context.Background(), user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			return fmt.Errorf("user %s already exists", *loginID)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Fprintf(stdout, "User %s created successfully with ID %d\n", user.UserID, user.ID)
	return nil
}

func readPassword(stdin io.Reader) (string, error) {
	// Check if stdin is a terminal
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytePassword, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(bytePassword), nil
	}

	// Fallback for non-terminal (e.g. tests, pipes)
	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
