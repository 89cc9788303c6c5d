package pulse

import (
	"testing"
	"time"
)

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.Port != DefaultPort {
		t.Fatalf("Port = %d, want %d", o.Port, DefaultPort)
	}
	if o.ActivityTimeout != DefaultActivityTimeout {
		t.Fatalf("ActivityTimeout = %s, want %s", o.ActivityTimeout, DefaultActivityTimeout)
	}
	if o.Insecure {
		t.Fatal("Insecure must default to false")
	}
	if o.Auth != nil {
		t.Fatal("Auth must stay nil when not configured")
	}
}

func TestOptionsDefaultAuthHeaders(t *testing.T) {
	o := Options{Auth: &AuthOptions{Endpoint: "https://auth.example.com/pulse"}}.withDefaults()
	if got := o.Auth.Headers["Content-Type"]; got != "application/x-www-form-urlencoded" {
		t.Fatalf("Content-Type = %q", got)
	}
}

func TestOptionsAuthHeadersCopied(t *testing.T) {
	src := map[string]string{"Authorization": "Bearer token"}
	o := Options{Auth: &AuthOptions{Endpoint: "e", Headers: src}}.withDefaults()
	if got := o.Auth.Headers["Authorization"]; got != "Bearer token" {
		t.Fatalf("Authorization = %q", got)
	}
	src["Authorization"] = "changed"
	if got := o.Auth.Headers["Authorization"]; got != "Bearer token" {
		t.Fatal("normalized headers alias the caller's map")
	}
}

func TestOptionsWire(t *testing.T) {
	w := Options{
		Cluster:         "eu",
		Port:            8080,
		Insecure:        true,
		ActivityTimeout: 45 * time.Second,
	}.wire()
	if w.Cluster != "eu" || w.Port != 8080 {
		t.Fatalf("wire = %+v", w)
	}
	if w.Encrypted {
		t.Fatal("Insecure must clear the encrypted flag")
	}
	if w.ActivityTimeout != 45000 {
		t.Fatalf("ActivityTimeout = %d ms, want 45000", w.ActivityTimeout)
	}
	if w.Auth != nil {
		t.Fatal("Auth must stay nil when not configured")
	}
}

func TestOptionsWireDefaults(t *testing.T) {
	w := Options{}.withDefaults().wire()
	if !w.Encrypted {
		t.Fatal("encryption must be on by default")
	}
	if w.Port != 443 {
		t.Fatalf("Port = %d, want 443", w.Port)
	}
	if w.ActivityTimeout != 30000 {
		t.Fatalf("ActivityTimeout = %d ms, want 30000", w.ActivityTimeout)
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("PULSE_CLUSTER", "ap4")
	t.Setenv("PULSE_PORT", "8443")
	t.Setenv("PULSE_INSECURE", "true")
	t.Setenv("PULSE_ACTIVITY_TIMEOUT", "45s")
	t.Setenv("PULSE_AUTH_ENDPOINT", "https://auth.example.com/pulse")

	opts, err := OptionsFromEnv()
	if err != nil {
		t.Fatalf("OptionsFromEnv() error = %v", err)
	}
	if opts.Cluster != "ap4" || opts.Port != 8443 || !opts.Insecure {
		t.Fatalf("opts = %+v", opts)
	}
	if opts.ActivityTimeout != 45*time.Second {
		t.Fatalf("ActivityTimeout = %s, want 45s", opts.ActivityTimeout)
	}
	if opts.Auth == nil || opts.Auth.Endpoint != "https://auth.example.com/pulse" {
		t.Fatalf("Auth = %+v", opts.Auth)
	}
}

func TestOptionsFromEnvDefaults(t *testing.T) {
	t.Setenv("PULSE_CLUSTER", "mt1")

	opts, err := OptionsFromEnv()
	if err != nil {
		t.Fatalf("OptionsFromEnv() error = %v", err)
	}
	if opts.Port != DefaultPort {
		t.Fatalf("Port = %d, want %d", opts.Port, DefaultPort)
	}
	if opts.ActivityTimeout != DefaultActivityTimeout {
		t.Fatalf("ActivityTimeout = %s, want %s", opts.ActivityTimeout, DefaultActivityTimeout)
	}
	if opts.Auth != nil {
		t.Fatal("Auth must stay nil when PULSE_AUTH_ENDPOINT is unset")
	}
}
