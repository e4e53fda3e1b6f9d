package bot

import "github.com/bwmarrin/discordgo"

func idOption(description string) []*discordgo.ApplicationCommandOption {
	return []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "id",
			Description: description,
			Required:    true,
		},
	}
}

var minReportHours float64 = 1

const maxReportHours = 24 * 30

func commands() []*discordgo.ApplicationCommand {
	dm := false
	return []*discordgo.ApplicationCommand{
		{
			Name:         "monitoring",
			Description:  "Toggle 24/7 status monitoring",
			DMPermission: &dm,
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French:    "Activer ou desactiver la surveillance 24/7",
				discordgo.EnglishUS: "Toggle 24/7 status monitoring",
				discordgo.SpanishES: "Activar o desactivar la supervision 24/7",
			},
		},
		{
			Name:         "whitelist",
			Description:  "Manage whitelisted bots and roles",
			DMPermission: &dm,
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French:    "Gerer les bots et roles autorises",
				discordgo.EnglishUS: "Manage whitelisted bots and roles",
				discordgo.SpanishES: "Gestionar bots y roles permitidos",
			},
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add-bot",
					Description: "Whitelist a bot",
					Options:     idOption("Bot id"),
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove-bot",
					Description: "Remove a bot from the whitelist and kick it",
					Options:     idOption("Bot id"),
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add-role",
					Description: "Whitelist a role",
					Options:     idOption("@role or role id"),
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove-role",
					Description: "Remove a role from the whitelist",
					Options:     idOption("@role or role id"),
				},
			},
		},
		{
			Name:         "release",
			Description:  "Release a member from a tracked timeout",
			DMPermission: &dm,
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French:    "Liberer un membre de son exclusion temporaire",
				discordgo.EnglishUS: "Release a member from a tracked timeout",
				discordgo.SpanishES: "Liberar a un miembro de su aislamiento",
			},
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Member to release",
					Required:    true,
				},
			},
		},
		{
			Name:         "shield",
			Description:  "Show protection status",
			DMPermission: &dm,
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French:    "Afficher le statut de protection",
				discordgo.EnglishUS: "Show protection status",
				discordgo.SpanishES: "Mostrar estado de proteccion",
			},
		},
		{
			Name:         "report",
			Description:  "Summarize recent security activity",
			DMPermission: &dm,
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French:    "Resumer l'activite de securite recente",
				discordgo.EnglishUS: "Summarize recent security activity",
				discordgo.SpanishES: "Resumir la actividad de seguridad reciente",
			},
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "hours",
					Description: "Period in hours (default 24)",
					MinValue:    &minReportHours,
					MaxValue:    maxReportHours,
				},
			},
		},
		{
			Name:        "help",
			Description: "List commands and protections",
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French:    "Lister les commandes et protections",
				discordgo.EnglishUS: "List commands and protections",
				discordgo.SpanishES: "Listar comandos y protecciones",
			},
		},
	}
}

// registerCommands creates or edits the global commands and deletes the
// ones no longer defined.
func (b *Bot) registerCommands() error {
	desired := commands()
	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range desired {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand, len(existing))
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	names := make(map[string]struct{}, len(desired))
	for _, cmd := range desired {
		names[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := names[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}
