// Тесты функции parseOwnerName — извлечение имени владельца пода из hostname.
package main

import (
	"testing"

	"github.com/bigkaa/goartstore/attachment-module/internal/config"
)

func TestParseOwnerName(t *testing.T) {
	tests := []struct {
		name     string
		hostname string
		want     string
	}{
		{
			name:     "Deployment — attachment-module",
			hostname: "attachment-module-7d8f9b6c4f-x2k9z",
			want:     "attachment-module",
		},
		{
			name:     "Deployment — длинное имя с цифрами",
			hostname: "attachment-module-am-01-5fbcd8d7b9-k4m2j",
			want:     "attachment-module-am-01",
		},
		{
			name:     "StatefulSet — ordinal 0",
			hostname: "my-sts-0",
			want:     "my-sts",
		},
		{
			name:     "StatefulSet — ordinal 42",
			hostname: "my-sts-42",
			want:     "my-sts",
		},
		{
			name:     "Fallback — простое имя",
			hostname: "my-app",
			want:     "my-app",
		},
		{
			name:     "Fallback — localhost",
			hostname: "localhost",
			want:     "localhost",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseOwnerName(tt.hostname)
			if got != tt.want {
				t.Errorf("parseOwnerName(%q) = %q, want %q", tt.hostname, got, tt.want)
			}
		})
	}
}

func TestDephealthName_Explicit(t *testing.T) {
	cfg := &config.Config{DephealthName: "am-prod"}
	if got := dephealthName(cfg); got != "am-prod" {
		t.Errorf("dephealthName = %q, want am-prod", got)
	}
}
