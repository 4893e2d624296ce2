package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"filebox/internal/sandbox"
	"filebox/internal/users"
)

func useraddCommand(stdin io.Reader, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "useradd",
		Usage:     "create an account and its sandbox",
		ArgsUsage: "<username>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Usage: "storage root holding the user sandboxes"},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "password (prompted when omitted)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return cli.Exit("usage: filebox useradd [--password pw] <username>", 2)
			}
			username := cmd.Args().First()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			password := cmd.String("password")
			if password == "" {
				if password, err = promptPassword(stdin, stdout); err != nil {
					return err
				}
			}

			svc, store, err := openUsers(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := svc.Register(ctx, username, password); err != nil {
				switch {
				case errors.Is(err, users.ErrDuplicateUser):
					return cli.Exit(fmt.Sprintf("user %q already exists", username), 1)
				case errors.Is(err, users.ErrInvalidUsername), errors.Is(err, users.ErrEmptyPassword):
					return cli.Exit(err.Error(), 2)
				}
				return err
			}
			m := &sandbox.Manager{Root: cfg.Storage.Root, SeedFile: cfg.Storage.SeedFile, SeedText: cfg.Storage.SeedText}
			dir, err := m.For(username)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "created %s (%s)\n", username, dir)
			return nil
		},
	}
}

// promptPassword reads a password without echo from a terminal, or one line
// from any other reader.
func promptPassword(stdin io.Reader, stdout io.Writer) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(stdout, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(stdout)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func passwdCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "passwd",
		Usage: "print a bcrypt hash for a password",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "p", Usage: "password (required)"},
			&cli.IntFlag{Name: "cost", Usage: "bcrypt cost", Value: bcrypt.DefaultCost},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			password := cmd.String("p")
			if password == "" {
				return cli.Exit("usage: filebox passwd -p <password>", 2)
			}
			cost := int(cmd.Int("cost"))
			if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
				return cli.Exit(fmt.Sprintf("invalid cost %d (min=%d max=%d)", cost, bcrypt.MinCost, bcrypt.MaxCost), 2)
			}
			h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
			if err != nil {
				return fmt.Errorf("bcrypt: %w", err)
			}
			fmt.Fprintln(stdout, string(h))
			return nil
		},
	}
}
