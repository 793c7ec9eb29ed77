package parser

import (
	"strings"
)

// FormType represents the purpose of a form.
type FormType string

const (
	FormTypeLogin    FormType = "login"
	FormTypeSignup   FormType = "signup"
	FormTypeSearch   FormType = "search"
	FormTypeContact  FormType = "contact"
	FormTypePayment  FormType = "payment"
	FormTypeUpload   FormType = "upload"
	FormTypeBooking  FormType = "booking"
	FormTypeSettings FormType = "settings"
	FormTypeGeneric  FormType = "generic"
)

// formFacts is what the classification rules look at.
type formFacts struct {
	names   string // space-joined lower-case input names
	action  string
	types   map[string]int
	visible int
	enctype string
}

// formRule classifies a form when match returns true.
type formRule struct {
	typ   FormType
	match func(f formFacts) bool
}

// formRules is evaluated in order; the first match wins.
var formRules = []formRule{
	{FormTypeLogin, func(f formFacts) bool {
		if f.types["password"] == 0 || f.visible > 4 {
			return false
		}
		return containsAny(f.names+" "+f.action, "login", "signin", "sign-in", "log-in", "auth") ||
			(strings.Contains(f.names, "password") && containsAny(f.names, "user", "email"))
	}},
	{FormTypeSignup, func(f formFacts) bool {
		return f.types["password"] > 0 &&
			(containsAny(f.names+" "+f.action, "signup", "register", "sign-up", "join") ||
				containsAny(f.names, "confirm", "password2"))
	}},
	{FormTypeSearch, func(f formFacts) bool {
		return f.types["search"] > 0 || containsAny(f.names+" "+f.action, "search", "query") ||
			strings.HasPrefix(f.names, "q ") || f.names == "q"
	}},
	{FormTypeBooking, func(f formFacts) bool {
		return f.types["date"]+f.types["datetime-local"]+f.types["time"] > 0 &&
			containsAny(f.names+" "+f.action, "appointment", "booking", "book", "reserv", "schedule", "slot")
	}},
	{FormTypePayment, func(f formFacts) bool {
		return containsAny(f.names+" "+f.action, "payment", "checkout", "card", "credit", "billing")
	}},
	{FormTypeUpload, func(f formFacts) bool {
		return f.types["file"] > 0 || f.enctype == "multipart/form-data"
	}},
	{FormTypeContact, func(f formFacts) bool {
		return f.types["textarea"] > 0 && containsAny(f.names+" "+f.action, "contact", "message", "inquiry", "feedback")
	}},
	{FormTypeSettings, func(f formFacts) bool {
		return containsAny(f.action, "settings", "profile", "preferences", "account")
	}},
}

var csrfPatterns = []string{
	"csrf", "csrftoken", "csrfmiddlewaretoken", "__requestverificationtoken",
	"authenticity_token", "_token", "xsrf", "antiforgery",
}

var captchaPatterns = []string{"captcha", "recaptcha", "hcaptcha", "turnstile"}

// FormAnalyzer classifies forms and spots protection tokens.
type FormAnalyzer struct {
	rules []formRule
}

// NewFormAnalyzer creates an analyzer with the built-in rules.
func NewFormAnalyzer() *FormAnalyzer {
	return &FormAnalyzer{rules: formRules}
}

// FormAnalysis is the outcome of Analyze.
type FormAnalysis struct {
	Type       FormType
	CSRFField  string
	HasCaptcha bool
}

// Analyze classifies a form.
func (a *FormAnalyzer) Analyze(form FormInfo) FormAnalysis {
	result := FormAnalysis{Type: FormTypeGeneric}
	result.CSRFField = detectCSRF(form.Inputs)
	result.HasCaptcha = detectCaptcha(form.Inputs)

	facts := formFacts{
		action:  strings.ToLower(form.Action),
		types:   make(map[string]int),
		enctype: strings.ToLower(form.Enctype),
	}
	var names []string
	for _, in := range form.Inputs {
		if in.Name == result.CSRFField && in.Name != "" {
			continue
		}
		names = append(names, strings.ToLower(in.Name))
		facts.types[in.Type]++
		if in.Type != "hidden" && !ignoredInputTypes[in.Type] {
			facts.visible++
		}
	}
	facts.names = strings.Join(names, " ")

	for _, rule := range a.rules {
		if rule.match(facts) {
			result.Type = rule.typ
			break
		}
	}
	return result
}

func detectCSRF(inputs []InputInfo) string {
	for _, input := range inputs {
		if input.Type != "hidden" {
			continue
		}
		nameLower := strings.ToLower(input.Name)
		for _, pattern := range csrfPatterns {
			if strings.Contains(nameLower, pattern) {
				return input.Name
			}
		}
	}
	return ""
}

func detectCaptcha(inputs []InputInfo) bool {
	for _, input := range inputs {
		joined := strings.ToLower(input.Name + " " + input.ID + " " + input.Class)
		if containsAny(joined, captchaPatterns...) {
			return true
		}
	}
	return false
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
