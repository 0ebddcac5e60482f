package config

import (
	"os"
	"os/exec"
	"path/filepath"
)

// DetectionResult describes one optional runtime dependency
type DetectionResult struct {
	Available bool
	Status    string
	Path      string
}

// EnvironmentDetector checks the optional tools and credentials that some
// fetchers and archive targets rely on.
type EnvironmentDetector struct {
	lookPath func(string) (string, error)
	getenv   func(string) string
	home     string
}

// NewEnvironmentDetector creates a detector for the current process
func NewEnvironmentDetector() *EnvironmentDetector {
	home, _ := os.UserHomeDir()
	return &EnvironmentDetector{
		lookPath: exec.LookPath,
		getenv:   os.Getenv,
		home:     home,
	}
}

// DetectAll runs every check keyed by component name
func (d *EnvironmentDetector) DetectAll(chromePath string) map[string]DetectionResult {
	return map[string]DetectionResult{
		"browser": d.DetectBrowser(chromePath),
		"s3":      d.DetectAWS(),
		"gcs":     d.DetectGCS(),
		"azblob":  d.DetectAzure(),
	}
}

// DetectBrowser finds a Chrome or Chromium binary for browser fetches
func (d *EnvironmentDetector) DetectBrowser(configured string) DetectionResult {
	if configured != "" {
		if _, err := os.Stat(configured); err == nil {
			return DetectionResult{Available: true, Status: "configured browser found", Path: configured}
		}
		return DetectionResult{Status: "configured chrome_path not found", Path: configured}
	}

	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"} {
		if p, err := d.lookPath(name); err == nil {
			return DetectionResult{Available: true, Status: name + " found", Path: p}
		}
	}
	return DetectionResult{Status: "no Chrome or Chromium on PATH"}
}

// DetectAWS checks for AWS credentials in the environment or ~/.aws
func (d *EnvironmentDetector) DetectAWS() DetectionResult {
	if d.getenv("AWS_ACCESS_KEY_ID") != "" && d.getenv("AWS_SECRET_ACCESS_KEY") != "" {
		return DetectionResult{Available: true, Status: "credentials in environment"}
	}
	if d.getenv("AWS_PROFILE") != "" {
		return DetectionResult{Available: true, Status: "profile " + d.getenv("AWS_PROFILE")}
	}
	for _, p := range []string{
		filepath.Join(d.home, ".aws", "credentials"),
		filepath.Join(d.home, ".aws", "config"),
	} {
		if _, err := os.Stat(p); err == nil {
			return DetectionResult{Available: true, Status: "shared config found", Path: p}
		}
	}
	return DetectionResult{Status: "no AWS credentials found"}
}

// DetectGCS checks for Google application default credentials
func (d *EnvironmentDetector) DetectGCS() DetectionResult {
	if p := d.getenv("GOOGLE_APPLICATION_CREDENTIALS"); p != "" {
		return DetectionResult{Available: true, Status: "service account key", Path: p}
	}
	adc := filepath.Join(d.home, ".config", "gcloud", "application_default_credentials.json")
	if _, err := os.Stat(adc); err == nil {
		return DetectionResult{Available: true, Status: "application default credentials", Path: adc}
	}
	return DetectionResult{Status: "no Google credentials found"}
}

// DetectAzure checks for a storage account key in the environment
func (d *EnvironmentDetector) DetectAzure() DetectionResult {
	if d.getenv("AZURE_STORAGE_ACCOUNT") != "" && d.getenv("AZURE_STORAGE_KEY") != "" {
		return DetectionResult{Available: true, Status: "account key in environment"}
	}
	return DetectionResult{Status: "AZURE_STORAGE_ACCOUNT/AZURE_STORAGE_KEY not set"}
}
