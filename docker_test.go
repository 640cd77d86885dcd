package storefront_test

import (
	"os"
	"slices"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type composeFile struct {
	Services map[string]struct {
		Image    string   `yaml:"image"`
		Build    any      `yaml:"build"`
		Command  []string `yaml:"command"`
		Networks []string `yaml:"networks"`
		EnvFile  any      `yaml:"env_file"`
	} `yaml:"services"`
	Networks map[string]struct {
		Internal bool   `yaml:"internal"`
		Driver   string `yaml:"driver"`
	} `yaml:"networks"`
}

func loadCompose(t *testing.T) composeFile {
	t.Helper()
	data, err := os.ReadFile("docker-compose.yml")
	if err != nil {
		t.Fatalf("read docker-compose.yml: %v", err)
	}
	var c composeFile
	if err := yaml.Unmarshal(data, &c); err != nil {
		t.Fatalf("docker-compose.yml is not valid YAML: %v", err)
	}
	return c
}

func readDockerfile(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("Dockerfile")
	if err != nil {
		t.Fatalf("read Dockerfile: %v", err)
	}
	return string(data)
}

func TestDockerfile(t *testing.T) {
	content := readDockerfile(t)

	var stages []string
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); strings.HasPrefix(line, "FROM ") {
			stages = append(stages, line)
		}
	}
	if len(stages) < 2 || !strings.HasPrefix(stages[0], "FROM golang:") {
		t.Fatalf("expected a golang build stage followed by a runtime stage, got %v", stages)
	}
	if final := stages[len(stages)-1]; !strings.Contains(final, "distroless") {
		t.Errorf("runtime stage should be distroless, got %q", final)
	}

	for _, want := range []string{
		"-o /out/storefront ./cmd/storefront",
		`ENTRYPOINT ["/storefront"]`,
		// distrolessにはシェルがない
		`CMD ["/storefront", "healthcheck"]`,
		"USER nonroot",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("Dockerfile missing %q", want)
		}
	}
}

func TestDockerCompose_Services(t *testing.T) {
	c := loadCompose(t)

	tests := []struct {
		service string
		command []string
	}{
		{"migrate", []string{"migrate", "up"}},
		{"api", []string{"serve"}},
		{"worker", []string{"worker"}},
	}
	for _, tt := range tests {
		svc, ok := c.Services[tt.service]
		if !ok {
			t.Errorf("service %q is not defined", tt.service)
			continue
		}
		if !slices.Equal(svc.Command, tt.command) {
			t.Errorf("%s command = %v, want %v", tt.service, svc.Command, tt.command)
		}
		if svc.Build == nil {
			t.Errorf("%s should be built from the repository Dockerfile", tt.service)
		}
	}

	if db := c.Services["db"]; !strings.HasPrefix(db.Image, "postgres:") {
		t.Errorf("db image = %q, want postgres", db.Image)
	}
}

func TestDockerCompose_Networks(t *testing.T) {
	c := loadCompose(t)

	if !c.Networks["backend"].Internal {
		t.Error("backend network should be internal")
	}
	if _, ok := c.Networks["external"]; !ok {
		t.Fatal("external network is not defined")
	}

	// 外部IdPと画像取得があるのはapiだけ
	for name, svc := range c.Services {
		joined := slices.Contains(svc.Networks, "external")
		if want := name == "api"; joined != want {
			t.Errorf("%s joins external = %v, want %v", name, joined, want)
		}
	}
}
