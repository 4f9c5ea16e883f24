package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// buildBinary compiles the CLI into dir and returns its path.
func buildBinary(t *testing.T, dir string) string {
	t.Helper()
	originalDir, _ := os.Getwd()
	binaryPath := filepath.Join(dir, "buildcell")
	buildCmd := exec.Command("go", "build", "-o", binaryPath, "../../cmd/buildcell")
	buildCmd.Dir = originalDir
	if out, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build CLI binary: %v\n%s", err, out)
	}
	return binaryPath
}

func TestCLI_ErrorHandling_InvalidConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	originalDir, _ := os.Getwd()
	defer os.Chdir(originalDir)

	binaryPath := buildBinary(t, tempDir)

	os.Chdir(tempDir)

	// Malformed YAML is rejected before any privileged command runs.
	invalidYAML := `invalid: yaml: content:
  - this is not valid
    yaml: structure`

	if err := os.WriteFile("buildcell.yaml", []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	cmd := exec.Command(binaryPath, "64", "shutdown")
	cmd.Env = append(os.Environ(), "BUILDCELL_LOG_DIR="+tempDir)
	output, err := cmd.CombinedOutput()

	if err == nil {
		t.Error("Expected command to fail but it succeeded")
	}

	outputStr := string(output)
	if !strings.Contains(outputStr, "Error:") {
		t.Errorf("Expected error output, but got: %s", outputStr)
	}

	logFile := filepath.Join(tempDir, "buildcell.log")
	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		t.Error("Expected buildcell.log to be created")
	}
}

func TestCLI_ErrorHandling_InvalidImageURL(t *testing.T) {
	tempDir := t.TempDir()
	originalDir, _ := os.Getwd()
	defer os.Chdir(originalDir)

	binaryPath := buildBinary(t, tempDir)

	os.Chdir(tempDir)

	config := "image: not-a-url\n"
	if err := os.WriteFile("buildcell.yaml", []byte(config), 0644); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	cmd := exec.Command(binaryPath, "64", "shutdown")
	cmd.Env = append(os.Environ(), "BUILDCELL_LOG_DIR="+tempDir)
	output, err := cmd.CombinedOutput()

	if err == nil {
		t.Error("Expected command to fail but it succeeded")
	}

	outputStr := string(output)
	for _, part := range []string{"Error:", "must be a valid URL"} {
		if !strings.Contains(outputStr, part) {
			t.Errorf("Expected output to contain %q, but got: %s", part, outputStr)
		}
	}
}

func TestCLI_DefaultArchitectureShutdown(t *testing.T) {
	tempDir := t.TempDir()
	originalDir, _ := os.Getwd()
	defer os.Chdir(originalDir)

	binaryPath := buildBinary(t, tempDir)

	workDir := filepath.Join(tempDir, "work")
	if err := os.MkdirAll(workDir, 0755); err != nil {
		t.Fatalf("Failed to create work dir: %v", err)
	}
	os.Chdir(workDir)

	// No architecture selector defaults to the 64-bit environment.
	cmd := exec.Command(binaryPath, "shutdown")
	cmd.Env = append(os.Environ(),
		"BUILDCELL_LOG_DIR="+tempDir,
		"XDG_CACHE_HOME="+filepath.Join(tempDir, "cache"))
	output, err := cmd.CombinedOutput()

	if err != nil {
		t.Errorf("Expected shutdown to succeed, got %v: %s", err, output)
	}
	if !strings.Contains(string(output), "64-bit") {
		t.Errorf("Expected 64-bit teardown message, but got: %s", output)
	}
}

func TestCLI_ShutdownWithNothingMounted(t *testing.T) {
	tempDir := t.TempDir()
	originalDir, _ := os.Getwd()
	defer os.Chdir(originalDir)

	binaryPath := buildBinary(t, tempDir)

	workDir := filepath.Join(tempDir, "work")
	if err := os.MkdirAll(workDir, 0755); err != nil {
		t.Fatalf("Failed to create work dir: %v", err)
	}
	os.Chdir(workDir)

	// Shutdown with no container and no mounts is a clean no-op.
	cmd := exec.Command(binaryPath, "64", "shutdown")
	cmd.Env = append(os.Environ(),
		"BUILDCELL_LOG_DIR="+tempDir,
		"XDG_CACHE_HOME="+filepath.Join(tempDir, "cache"))
	output, err := cmd.CombinedOutput()

	if err != nil {
		t.Errorf("Expected shutdown to succeed, got %v: %s", err, output)
	}
	if !strings.Contains(string(output), "torn down") {
		t.Errorf("Expected teardown confirmation, but got: %s", output)
	}
}
