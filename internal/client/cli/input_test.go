package cli

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/models"
	"github.com/stretchr/testify/require"
)

func TestGetSimpleText(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("hello world\n"))
	var out bytes.Buffer
	got, err := GetSimpleText(in, "Name?", &out)
	if err != nil || got != "hello world" {
		t.Fatalf("got %q, err=%v", got, err)
	}
	if out.String() != "Name?\n> " {
		t.Fatalf("unexpected prompt %q", out.String())
	}
}

func TestGetSimpleTextEOF(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("lastline"))
	var out bytes.Buffer
	got, err := GetSimpleText(in, "Name?", &out)
	if err != nil || got != "lastline" {
		t.Fatalf("got %q, err=%v", got, err)
	}
}

func TestGetPassword_Error(t *testing.T) {
	old := readPassword
	defer func() { readPassword = old }()
	readPassword = func(int) ([]byte, error) {
		return nil, errors.New("boom")
	}
	var out bytes.Buffer
	_, err := GetPassword(&out)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGetPassword_OK(t *testing.T) {
	old := readPassword
	defer func() { readPassword = old }()
	readPassword = func(int) ([]byte, error) { return []byte("secret"), nil }

	var out bytes.Buffer
	pw, err := GetPassword(&out)
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), pw)
}

func TestParseFields(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected models.Payload
		wantErr  bool
	}{
		{
			name:     "typed values",
			args:     []string{"kg=3.2", "weaned=false", "note=null", "name=Luna"},
			expected: models.Payload{"kg": 3.2, "weaned": false, "note": nil, "name": "Luna"},
		},
		{
			name:     "quotes force a string",
			args:     []string{`tag="007"`, `empty=""`},
			expected: models.Payload{"tag": "007", "empty": ""},
		},
		{
			name:     "value may contain equals",
			args:     []string{"expr=a=b"},
			expected: models.Payload{"expr": "a=b"},
		},
		{
			name:     "no arguments",
			args:     nil,
			expected: models.Payload{},
		},
		{name: "missing equals", args: []string{"kg"}, wantErr: true},
		{name: "empty name", args: []string{"=3"}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseFields(tc.args)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, got)
		})
	}
}
