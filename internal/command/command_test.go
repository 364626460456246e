package command

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestTemplate_Render(t *testing.T) {
	tmpl, err := Parse("nmcli --wait {timeout} device wifi connect {ssid} password {password}")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	got := tmpl.Render(map[string]string{
		"ssid":     "My Home",
		"password": `pa"ss word`,
		"timeout":  "10",
	})
	want := []string{"nmcli", "--wait", "10", "device", "wifi", "connect", "My Home", "password", `pa"ss word`}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestTemplate_RenderQuoted(t *testing.T) {
	tmpl, err := Parse(`sh -c 'rtcwake -m off -s {seconds}'`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	got := tmpl.Render(map[string]string{"seconds": "300"})
	if len(got) != 3 || got[2] != "rtcwake -m off -s 300" {
		t.Errorf("Render() = %q", got)
	}
}

func TestParse_Empty(t *testing.T) {
	if _, err := Parse("   "); err == nil {
		t.Errorf("Parse(blank) error = nil, want non-nil")
	}
}

func TestExec(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no sh")
	}

	run := Exec(time.Second)
	res, err := run(context.Background(), []string{"sh", "-c", "echo ok"})
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "ok" {
		t.Errorf("Stdout = %q, want ok", res.Stdout)
	}

	res, err = run(context.Background(), []string{"sh", "-c", "echo bad >&2; exit 3"})
	if err == nil || res.ExitCode != 3 || !strings.Contains(err.Error(), "bad") {
		t.Errorf("Exec(exit 3) = %+v, %v", res, err)
	}

	_, err = Exec(20*time.Millisecond)(context.Background(), []string{"sh", "-c", "exec sleep 5"})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Exec(sleep) error = %v, want ErrTimeout", err)
	}
}
