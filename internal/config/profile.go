package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile describes the brokerage site the scraper drives. Everything that
// is tied to the third-party markup lives here so it can be retuned without
// a rebuild.
type Profile struct {
	LoginURL     string   `yaml:"login_url"`
	ChainURL     string   `yaml:"chain_url"`
	AuthURLHints []string `yaml:"auth_url_hints"`

	Login struct {
		Username   string `yaml:"username"`
		Password   string `yaml:"password"`
		Submit     string `yaml:"submit"`
		RememberMe string `yaml:"remember_me"`
		Error      string `yaml:"error"`
	} `yaml:"login"`

	MFAInputs []string `yaml:"mfa_inputs"`
	Landmarks []string `yaml:"landmarks"`

	SideTabs map[string]string `yaml:"side_tabs"`

	// Empty lists fall back to the built-in defaults of the consuming package.
	Keywords          []string            `yaml:"expansion_keywords"`
	ExpansionMinCount int                 `yaml:"expansion_threshold"`
	ClickStrategies   []ClickStrategy     `yaml:"click_strategies"`
	SelectorFamilies  []string            `yaml:"selector_families"`
	Patterns          map[string][]string `yaml:"patterns"`
	FieldLabels       map[string][]string `yaml:"field_labels"`
	CaptureURLHints   []string            `yaml:"capture_url_patterns"`
	MinBoxWidth       float64             `yaml:"min_box_width"`
	MinBoxHeight      float64             `yaml:"min_box_height"`
}

// ClickStrategy is either a fraction of the element width measured from its
// left edge, or a fixed pixel offset to the left of the price element.
type ClickStrategy struct {
	Fraction float64 `yaml:"fraction"`
	OffsetPX float64 `yaml:"offset_px"`
}

// DefaultProfile returns the built-in site profile.
func DefaultProfile() Profile {
	var p Profile
	p.LoginURL = "https://robinhood.com/login"
	p.ChainURL = "https://robinhood.com/options/chains/{symbol}"
	p.AuthURLHints = []string{"/dashboard", "/portfolio", "/account", "/options/chains"}

	p.Login.Username = `input[name="username"]`
	p.Login.Password = `input[name="password"]`
	p.Login.Submit = `button[type="submit"]`
	p.Login.RememberMe = `input[name="remember_me"]`
	p.Login.Error = `[role="alert"]`

	p.MFAInputs = []string{
		`input[name="mfa_code"]`,
		`input[placeholder*="code"]`,
		`input[type="text"][maxlength="6"]`,
		`input[name="challenge_response"]`,
	}
	p.Landmarks = []string{
		`[data-testid="account-menu"]`,
		`[data-testid="portfolio-value"]`,
		`nav[aria-label="Main"]`,
	}
	p.SideTabs = map[string]string{"call": "Call", "put": "Put"}
	p.CaptureURLHints = []string{"marketdata", "options", "quotes"}
	p.MinBoxWidth = 20
	p.MinBoxHeight = 8
	return p
}

// LoadProfile reads a YAML profile overlay on top of DefaultProfile.
// A missing file is not an error.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
		return Profile{}, fmt.Errorf("profile config: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("profile config: %w", err)
	}
	for i, s := range p.ClickStrategies {
		if s.Fraction < 0 || s.Fraction > 1 {
			return Profile{}, fmt.Errorf("profile config: click_strategies[%d] fraction %v out of [0,1]", i, s.Fraction)
		}
	}
	if p.ChainURL == "" {
		return Profile{}, fmt.Errorf("profile config: chain_url is required")
	}
	return p, nil
}
