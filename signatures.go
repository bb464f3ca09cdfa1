package main

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed signatures.yaml
var defaultSignaturesYAML []byte

// signatureFile mirrors signatures.yaml. Empty fields fall back to defaults.
type signatureFile struct {
	ServerPrefix string `yaml:"server_prefix"`
	Firewall     struct {
		Status []int  `yaml:"status"`
		Marker string `yaml:"marker"`
	} `yaml:"firewall"`
	Captcha struct {
		Status      []int  `yaml:"status"`
		Action      string `yaml:"action"`
		Orchestrate string `yaml:"orchestrate"`
		Tracker     string `yaml:"tracker"`
	} `yaml:"captcha"`
	JSChallenge struct {
		Status      []int  `yaml:"status"`
		Form        string `yaml:"form"`
		Orchestrate string `yaml:"orchestrate"`
		Enter       string `yaml:"enter"`
	} `yaml:"jschallenge"`
}

// Signatures holds the compiled challenge patterns. It is immutable once built
// and safe to share between goroutines.
type Signatures struct {
	ServerPrefix    string
	FirewallStatus  []int
	FirewallMarker  string
	CaptchaStatus   []int
	CaptchaAction   *regexp.Regexp
	CaptchaOrch     *regexp.Regexp
	CaptchaTracker  *regexp.Regexp
	JSStatus        []int
	JSForm          *regexp.Regexp
	JSOrchestrate   *regexp.Regexp
	JSEnterFunction *regexp.Regexp
}

var (
	defaultSigs     *Signatures
	defaultSigsOnce sync.Once
)

// DefaultSignatures returns the embedded signature set.
func DefaultSignatures() *Signatures {
	defaultSigsOnce.Do(func() {
		var f signatureFile
		if err := yaml.Unmarshal(defaultSignaturesYAML, &f); err == nil {
			if sigs, err := compileSignatures(f); err == nil {
				defaultSigs = sigs
				return
			}
		}
		defaultSigs = builtinSignatures()
	})
	return defaultSigs
}

// LoadSignatures reads a YAML override file. Keys missing from the file keep
// their default value.
func LoadSignatures(path string) (*Signatures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signatures file: %w", err)
	}
	return ParseSignatures(data)
}

// ParseSignatures builds a signature set from YAML data layered over the
// embedded defaults.
func ParseSignatures(data []byte) (*Signatures, error) {
	var base signatureFile
	if err := yaml.Unmarshal(defaultSignaturesYAML, &base); err != nil {
		return nil, fmt.Errorf("failed to parse embedded signatures: %w", err)
	}

	var override signatureFile
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse signatures: %w", err)
	}

	return compileSignatures(mergeSignatureFiles(base, override))
}

func mergeSignatureFiles(base, o signatureFile) signatureFile {
	pick := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	pickStatus := func(dst *[]int, v []int) {
		if len(v) > 0 {
			*dst = v
		}
	}

	pick(&base.ServerPrefix, o.ServerPrefix)
	pickStatus(&base.Firewall.Status, o.Firewall.Status)
	pick(&base.Firewall.Marker, o.Firewall.Marker)
	pickStatus(&base.Captcha.Status, o.Captcha.Status)
	pick(&base.Captcha.Action, o.Captcha.Action)
	pick(&base.Captcha.Orchestrate, o.Captcha.Orchestrate)
	pick(&base.Captcha.Tracker, o.Captcha.Tracker)
	pickStatus(&base.JSChallenge.Status, o.JSChallenge.Status)
	pick(&base.JSChallenge.Form, o.JSChallenge.Form)
	pick(&base.JSChallenge.Orchestrate, o.JSChallenge.Orchestrate)
	pick(&base.JSChallenge.Enter, o.JSChallenge.Enter)
	return base
}

func compileSignatures(f signatureFile) (*Signatures, error) {
	if f.ServerPrefix == "" {
		return nil, fmt.Errorf("signatures: server_prefix is empty")
	}
	if f.Firewall.Marker == "" {
		return nil, fmt.Errorf("signatures: firewall marker is empty")
	}

	sigs := &Signatures{
		ServerPrefix:   f.ServerPrefix,
		FirewallStatus: slices.Clone(f.Firewall.Status),
		FirewallMarker: f.Firewall.Marker,
		CaptchaStatus:  slices.Clone(f.Captcha.Status),
		JSStatus:       slices.Clone(f.JSChallenge.Status),
	}

	patterns := []struct {
		name string
		expr string
		dst  **regexp.Regexp
	}{
		{"captcha.action", f.Captcha.Action, &sigs.CaptchaAction},
		{"captcha.orchestrate", f.Captcha.Orchestrate, &sigs.CaptchaOrch},
		{"captcha.tracker", f.Captcha.Tracker, &sigs.CaptchaTracker},
		{"jschallenge.form", f.JSChallenge.Form, &sigs.JSForm},
		{"jschallenge.orchestrate", f.JSChallenge.Orchestrate, &sigs.JSOrchestrate},
		{"jschallenge.enter", f.JSChallenge.Enter, &sigs.JSEnterFunction},
	}

	for _, p := range patterns {
		if p.expr == "" {
			return nil, fmt.Errorf("signatures: %s is empty", p.name)
		}
		re, err := regexp.Compile("(?ms)" + p.expr)
		if err != nil {
			return nil, fmt.Errorf("signatures: invalid %s pattern: %w", p.name, err)
		}
		*p.dst = re
	}

	return sigs, nil
}

// builtinSignatures is used only if the embedded file fails to load.
func builtinSignatures() *Signatures {
	return &Signatures{
		ServerPrefix:    "cloudflare",
		FirewallStatus:  []int{403},
		FirewallMarker:  `<span class="cf-error-code">1020</span>`,
		CaptchaStatus:   []int{403},
		CaptchaAction:   regexp.MustCompile(`(?ms)action="/\S+__cf_chl_captcha_tk__=\S+`),
		CaptchaOrch:     regexp.MustCompile(`(?ms)cpo.src\s*=\s*"/cdn-cgi/challenge-platform/\S+orchestrate/(captcha|managed)/v1`),
		CaptchaTracker:  regexp.MustCompile(`(?ms)\s*id="trk_captcha_js"`),
		JSStatus:        []int{429, 503},
		JSForm:          regexp.MustCompile(`(?ms)<form .*?="challenge-form" action="/.*?__cf_chl_jschl_tk__=\S+"`),
		JSOrchestrate:   regexp.MustCompile(`(?ms)cpo.src\s*=\s*"/cdn-cgi/challenge-platform/\S+orchestrate/jsch/v1`),
		JSEnterFunction: regexp.MustCompile(`(?ms)window._cf_chl_enter\s*[\(=]`),
	}
}
