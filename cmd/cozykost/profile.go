package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/totegamma/cozykost"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or edit your profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print your profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.user(); err != nil {
			return err
		}
		profile, err := a.client.Profile(cmd.Context())
		if err != nil {
			return err
		}
		return printProfile(cmd.OutOrStdout(), profile)
	},
}

var profileFields = []struct {
	flag  string
	usage string
	set   func(p *cozykost.ProfilePatch, v *string)
}{
	{"name", "display name", func(p *cozykost.ProfilePatch, v *string) { p.Name = v }},
	{"phone", "phone number", func(p *cozykost.ProfilePatch, v *string) { p.Phone = v }},
	{"gender", "gender", func(p *cozykost.ProfilePatch, v *string) { p.Gender = v }},
	{"birth-date", "birth date (YYYY-MM-DD)", func(p *cozykost.ProfilePatch, v *string) { p.BirthDate = v }},
	{"city", "home city", func(p *cozykost.ProfilePatch, v *string) { p.City = v }},
	{"status", "occupation status", func(p *cozykost.ProfilePatch, v *string) { p.Status = v }},
	{"education", "last education", func(p *cozykost.ProfilePatch, v *string) { p.Education = v }},
	{"emergency-phone", "emergency contact number", func(p *cozykost.ProfilePatch, v *string) { p.EmergencyPhone = v }},
	{"image", "profile image URL", func(p *cozykost.ProfilePatch, v *string) { p.ProfileImage = v }},
}

var profileEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Change profile fields",
	Example: `  cozykost profile edit --city Bandung --phone 08123456789`,
	RunE: func(cmd *cobra.Command, args []string) error {
		patch := patchFromFlags(cmd.Flags())
		if patch == (cozykost.ProfilePatch{}) {
			return fmt.Errorf("nothing to change: pass at least one field flag")
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.user(); err != nil {
			return err
		}
		profile, err := a.client.UpdateProfile(cmd.Context(), patch)
		if err != nil {
			return err
		}
		return printProfile(cmd.OutOrStdout(), profile)
	},
}

// patchFromFlags includes only the flags given on the command line.
func patchFromFlags(flags *pflag.FlagSet) cozykost.ProfilePatch {
	var patch cozykost.ProfilePatch
	for _, field := range profileFields {
		if !flags.Changed(field.flag) {
			continue
		}
		v, _ := flags.GetString(field.flag)
		field.set(&patch, &v)
	}
	return patch
}

var (
	emailNotification bool
	chatNotification  bool
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change notification settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.user(); err != nil {
			return err
		}
		profile, err := a.client.Profile(cmd.Context())
		if err != nil {
			return err
		}

		settings := profile.Settings
		flags := cmd.Flags()
		if flags.Changed("email-notification") || flags.Changed("chat-notification") {
			if flags.Changed("email-notification") {
				settings.EmailNotification = emailNotification
			}
			if flags.Changed("chat-notification") {
				settings.ChatNotification = chatNotification
			}
			profile, err = a.client.UpdateProfile(cmd.Context(), cozykost.ProfilePatch{Settings: &settings})
			if err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "email notifications: %s\n", onOff(profile.Settings.EmailNotification))
		fmt.Fprintf(out, "chat notifications:  %s\n", onOff(profile.Settings.ChatNotification))
		return nil
	},
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func printProfile(w io.Writer, p cozykost.Profile) error {
	image := ""
	if p.ProfileImage != nil {
		image = *p.ProfileImage
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"ID", p.ID},
		{"Email", p.Email},
		{"Name", p.Name},
		{"Phone", p.Phone},
		{"Gender", p.Gender},
		{"Birth date", p.BirthDate},
		{"City", p.City},
		{"Status", p.Status},
		{"Education", p.Education},
		{"Emergency phone", p.EmergencyPhone},
		{"Image", image},
		{"Member since", p.CreatedAt.Format("2006-01-02")},
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "%s:\t%s\n", row[0], row[1])
	}
	return tw.Flush()
}

func init() {
	for _, field := range profileFields {
		profileEditCmd.Flags().String(field.flag, "", field.usage)
	}
	profileCmd.AddCommand(profileShowCmd, profileEditCmd)

	settingsCmd.Flags().BoolVar(&emailNotification, "email-notification", true, "send updates by email")
	settingsCmd.Flags().BoolVar(&chatNotification, "chat-notification", true, "notify about new chat messages")
}
