package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/totegamma/cozykost"
)

var (
	signupName     string
	signupEmail    string
	signupPhone    string
	signupPassword string

	loginEmail    string
	loginPassword string
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show what the server advertises",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		wkc, err := a.client.WellKnown(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "domain:  %s\nversion: %s\nsigner:  %s\n", wkc.Domain, wkc.Version, wkc.SignerID)
		return nil
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account and log in",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		password, err := passwordOrPrompt(cmd, signupPassword)
		if err != nil {
			return err
		}

		profile, err := a.client.Signup(cmd.Context(), cozykost.SignupRequest{
			Name:     signupName,
			Email:    signupEmail,
			Phone:    signupPhone,
			Password: password,
		})
		if err != nil {
			return fmt.Errorf("signup failed: %w", err)
		}

		if _, err := a.client.Login(cmd.Context(), profile.Email, password); err != nil {
			return fmt.Errorf("account created but login failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s (%s)\n", profile.Name, profile.ID)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with email and password",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		password, err := passwordOrPrompt(cmd, loginPassword)
		if err != nil {
			return err
		}

		session, err := a.client.Login(cmd.Context(), loginEmail, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", session.UserID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		a.client.Logout()
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

// passwordOrPrompt reads one line from stdin when the flag was left empty.
func passwordOrPrompt(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	signupCmd.Flags().StringVar(&signupName, "name", "", "display name")
	signupCmd.Flags().StringVar(&signupEmail, "email", "", "email address")
	signupCmd.Flags().StringVar(&signupPhone, "phone", "", "phone number")
	signupCmd.Flags().StringVar(&signupPassword, "password", "", "password (prompted when empty)")
	_ = signupCmd.MarkFlagRequired("name")
	_ = signupCmd.MarkFlagRequired("email")

	loginCmd.Flags().StringVar(&loginEmail, "email", "", "email address")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "password (prompted when empty)")
	_ = loginCmd.MarkFlagRequired("email")
}
