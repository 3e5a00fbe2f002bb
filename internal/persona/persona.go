// ABOUTME: Bot personality loaded from a TOML file
// ABOUTME: Supplies the name, aliases and prompt fragments used by the responder and evaluator

package persona

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// Persona describes who the bot is in chat: its name, how people address
// it, and the prompt fragments that shape its replies.
type Persona struct {
	Bot         BotSection         `toml:"bot"`
	Personality PersonalitySection `toml:"personality"`
	FollowUp    FollowUpSection    `toml:"followup"`
}

type BotSection struct {
	Name    string   `toml:"name"`
	Aliases []string `toml:"aliases"`
}

type PersonalitySection struct {
	// Prompt lines are joined into the system part of the reply prompt.
	Prompt []string `toml:"prompt"`
	// ReplyStyle nudges length/tone ("keep replies short and casual").
	ReplyStyle string `toml:"reply_style"`
}

type FollowUpSection struct {
	// PromptTemplate asks the model whether the collected follow-up chatter
	// warrants a reply. It must request a yes/no style answer.
	PromptTemplate string `toml:"prompt_template"`
}

// DefaultFollowUpPrompt is used when the persona file does not override it.
const DefaultFollowUpPrompt = "You are %s, chatting in a group. After your last message the " +
	"conversation below happened. Decide whether it needs a reply from you. " +
	"Answer with a single word: yes or no."

// Default returns a usable persona for when no file is configured.
func Default() *Persona {
	return &Persona{
		Bot: BotSection{Name: "linger"},
		Personality: PersonalitySection{
			Prompt:     []string{"You are a casual, friendly member of the chat."},
			ReplyStyle: "Keep replies short, like a quick chat message.",
		},
	}
}

// Load reads a persona from the given TOML path, expanding ${VAR}
// environment references. Missing sections fall back to defaults.
func Load(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading persona file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	p := Default()
	if _, err := toml.Decode(expanded, p); err != nil {
		return nil, fmt.Errorf("parsing persona: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validating persona: %w", err)
	}
	return p, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required persona fields are present.
func (p *Persona) Validate() error {
	if p.Bot.Name == "" {
		return fmt.Errorf("bot.name is required")
	}
	if len(p.Personality.Prompt) == 0 {
		return fmt.Errorf("personality.prompt must have at least one line")
	}
	return nil
}

// Names returns the bot name and all aliases, for mention detection.
func (p *Persona) Names() []string {
	names := make([]string, 0, len(p.Bot.Aliases)+1)
	names = append(names, p.Bot.Name)
	names = append(names, p.Bot.Aliases...)
	return names
}

// PromptHeader joins the personality lines into the prompt preamble.
func (p *Persona) PromptHeader() string {
	return strings.Join(p.Personality.Prompt, "\n")
}

// FollowUpPrompt returns the follow-up judgment template with the bot
// name applied.
func (p *Persona) FollowUpPrompt() string {
	tmpl := p.FollowUp.PromptTemplate
	if tmpl == "" {
		tmpl = fmt.Sprintf(DefaultFollowUpPrompt, p.Bot.Name)
	}
	return tmpl
}

// StarterFile is a commented persona file written by the init command.
const StarterFile = `# linger persona

[bot]
name = "linger"
aliases = []

[personality]
prompt = [
    "You are a casual, friendly member of the chat.",
    "You never mention being a bot unless asked directly.",
]
reply_style = "Keep replies short, like a quick chat message."

[followup]
# Leave empty to use the built-in template. The model must be asked for a
# yes/no style answer; the evaluator looks for "yes".
prompt_template = ""
`
