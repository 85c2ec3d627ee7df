// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package validation

import (
	"errors"
	"strings"
	"testing"
)

type sampleReference struct {
	Name      string  `koanf:"name" validate:"required"`
	Lat       float64 `koanf:"lat" validate:"latitude"`
	Lon       float64 `koanf:"lon" validate:"longitude"`
	Threshold float64 `koanf:"threshold" validate:"unit"`
	Format    string  `json:"format" validate:"omitempty,oneof=json console"`
}

func TestValidateStruct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		in         sampleReference
		wantFields []string
	}{
		{
			name: "valid",
			in:   sampleReference{Name: "home", Lat: 40, Lon: -75, Threshold: 0.5, Format: "json"},
		},
		{
			name:       "missing name",
			in:         sampleReference{Lat: 40, Lon: -75},
			wantFields: []string{"name"},
		},
		{
			name:       "bad coordinates",
			in:         sampleReference{Name: "home", Lat: 91, Lon: -181},
			wantFields: []string{"lat", "lon"},
		},
		{
			name:       "threshold above one",
			in:         sampleReference{Name: "home", Threshold: 1.5},
			wantFields: []string{"threshold"},
		},
		{
			name:       "json tag used when koanf tag absent",
			in:         sampleReference{Name: "home", Format: "xml"},
			wantFields: []string{"format"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateStruct(&tt.in)
			if len(tt.wantFields) == 0 {
				if err != nil {
					t.Fatalf("ValidateStruct() = %v, want nil", err)
				}
				return
			}
			var verrs Errors
			if !errors.As(err, &verrs) {
				t.Fatalf("ValidateStruct() = %v, want Errors", err)
			}
			got := strings.Join(verrs.Fields(), ",")
			if got != strings.Join(tt.wantFields, ",") {
				t.Errorf("fields = %s, want %v", got, tt.wantFields)
			}
		})
	}
}

type nested struct {
	Inner struct {
		Radius float64 `koanf:"radius_meters" validate:"gt=0"`
	} `koanf:"inner"`
}

func TestValidateStruct_NestedMessage(t *testing.T) {
	t.Parallel()

	err := ValidateStruct(&nested{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if want := "inner.radius_meters must be greater than 0"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestGetIsSingleton(t *testing.T) {
	t.Parallel()

	if Get() != Get() {
		t.Error("Get() returned different instances")
	}
}
