package plugin

import (
	"errors"
	"testing"

	"github.com/Masterminds/semver/v3"
)

func validMetadata(t *testing.T) Metadata {
	t.Helper()
	return Metadata{
		ID:            "org.lumen.clock",
		Name:          "Clock",
		Version:       semver.MustParse("1.2.3"),
		MinAPIVersion: semver.MustParse("1.0.0"),
	}
}

func TestMetadataValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		meta := validMetadata(t)
		if err := meta.Validate(); err != nil {
			t.Fatalf("Validate() = %v, want nil", err)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		meta := validMetadata(t)
		meta.ID = ""
		if err := meta.Validate(); !errors.Is(err, ErrMissingID) {
			t.Errorf("Validate() = %v, want ErrMissingID", err)
		}
	})

	t.Run("bad id", func(t *testing.T) {
		for _, id := range []string{"clock", "Org.Lumen.Clock", "org..clock", "1org.clock", "org.lumen."} {
			meta := validMetadata(t)
			meta.ID = id
			if err := meta.Validate(); !errors.Is(err, ErrInvalidID) {
				t.Errorf("Validate() with id %q = %v, want ErrInvalidID", id, err)
			}
		}
	})

	t.Run("missing name", func(t *testing.T) {
		meta := validMetadata(t)
		meta.Name = ""
		if err := meta.Validate(); !errors.Is(err, ErrMissingName) {
			t.Errorf("Validate() = %v, want ErrMissingName", err)
		}
	})

	t.Run("missing version", func(t *testing.T) {
		meta := validMetadata(t)
		meta.Version = nil
		if err := meta.Validate(); !errors.Is(err, ErrInvalidVersion) {
			t.Errorf("Validate() = %v, want ErrInvalidVersion", err)
		}
	})

	t.Run("unknown capability", func(t *testing.T) {
		meta := validMetadata(t)
		meta.Capabilities = []Capability{"telepathy"}
		if err := meta.Validate(); !errors.Is(err, ErrInvalidCap) {
			t.Errorf("Validate() = %v, want ErrInvalidCap", err)
		}
	})

	t.Run("bad dependency constraint", func(t *testing.T) {
		meta := validMetadata(t)
		meta.Dependencies = map[string]string{"org.lumen.core": "not-a-version"}
		if err := meta.Validate(); err == nil {
			t.Error("Validate() = nil, want error for bad constraint")
		}
	})

	t.Run("valid dependency", func(t *testing.T) {
		meta := validMetadata(t)
		meta.Dependencies = map[string]string{
			"org.lumen.core":  "1.0.0",
			"org.lumen.tray":  ">= 2.1",
			"org.lumen.icons": "^0.4.0",
		}
		if err := meta.Validate(); err != nil {
			t.Errorf("Validate() = %v, want nil", err)
		}
	})
}

func TestParseConstraintBareVersion(t *testing.T) {
	c, err := parseConstraint("1.2.0")
	if err != nil {
		t.Fatalf("parseConstraint: %v", err)
	}

	// A bare version is a minimum, not an exact pin.
	if !c.Check(semver.MustParse("1.2.0")) {
		t.Error("1.2.0 should satisfy bare constraint 1.2.0")
	}
	if !c.Check(semver.MustParse("2.0.0")) {
		t.Error("2.0.0 should satisfy bare constraint 1.2.0")
	}
	if c.Check(semver.MustParse("1.1.9")) {
		t.Error("1.1.9 should not satisfy bare constraint 1.2.0")
	}
}

func TestCheckAPICompatibility(t *testing.T) {
	tests := []struct {
		name     string
		required string
		host     string
		ok       bool
	}{
		{"exact match", "1.0.0", "1.0.0", true},
		{"host newer minor", "1.0.0", "1.5.0", true},
		{"plugin needs newer minor", "2.0.0", "1.5.0", false},
		{"major behind", "1.0.0", "2.0.0", false},
		{"major ahead", "3.0.0", "2.9.0", false},
		{"same minor different patch", "1.2.9", "1.2.0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckAPICompatibility(semver.MustParse(tt.required), semver.MustParse(tt.host))
			if tt.ok && err != nil {
				t.Errorf("CheckAPICompatibility(%s, %s) = %v, want nil", tt.required, tt.host, err)
			}
			if !tt.ok {
				var mismatch *VersionMismatchError
				if !errors.As(err, &mismatch) {
					t.Fatalf("CheckAPICompatibility(%s, %s) = %v, want VersionMismatchError", tt.required, tt.host, err)
				}
				if mismatch.Expected != tt.required || mismatch.Actual != tt.host {
					t.Errorf("mismatch carries %s/%s, want %s/%s",
						mismatch.Expected, mismatch.Actual, tt.required, tt.host)
				}
			}
		})
	}
}

func TestMetadataHasCapability(t *testing.T) {
	meta := validMetadata(t)
	meta.Capabilities = []Capability{CapabilityPanelWidget}

	if !meta.HasCapability(CapabilityPanelWidget) {
		t.Error("expected panel-widget capability")
	}
	if meta.HasCapability(CapabilityLauncherProvider) {
		t.Error("unexpected launcher-provider capability")
	}
}
