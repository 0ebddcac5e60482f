package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const modulePath = "github.com/yairfalse/rankwatch/"

type Level int

const (
	LevelCmd Level = iota + 1
	LevelRun
	LevelAdapter
	LevelDomain
	LevelBase
	LevelPkg
)

var packageLevels = map[string]Level{
	"cmd":                   LevelCmd,
	"internal/orchestrator": LevelRun,
	"internal/fetcher":      LevelAdapter,
	"internal/storage":      LevelAdapter,
	"internal/archive":      LevelAdapter,
	"internal/notify":       LevelAdapter,
	"internal/scheduler":    LevelAdapter,
	"internal/locks":        LevelAdapter,
	"internal/differ":       LevelDomain,
	"internal/fingerprint":  LevelDomain,
	"internal/registry":     LevelDomain,
	"internal/errors":       LevelBase,
	"internal/logger":       LevelBase,
	"pkg":                   LevelPkg,
}

type Violation struct {
	FromFile    string
	FromPackage string
	FromLevel   Level
	ToPackage   string
	ToLevel     Level
}

// getPackageLevel returns the level of the longest matching prefix
func getPackageLevel(pkgPath string) Level {
	var best string
	for prefix := range packageLevels {
		if (pkgPath == prefix || strings.HasPrefix(pkgPath, prefix+"/")) && len(prefix) > len(best) {
			best = prefix
		}
	}
	return packageLevels[best]
}

func checkFile(root, filePath string) ([]Violation, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, filePath, content, parser.ImportsOnly)
	if err != nil {
		return nil, err
	}

	rel, err := filepath.Rel(root, filepath.Dir(filePath))
	if err != nil {
		return nil, err
	}
	fromPackage := filepath.ToSlash(rel)
	fromLevel := getPackageLevel(fromPackage)
	if fromLevel == 0 {
		return nil, nil
	}

	var violations []Violation
	for _, imp := range node.Imports {
		importPath := strings.Trim(imp.Path.Value, `"`)
		if !strings.HasPrefix(importPath, modulePath) {
			continue
		}
		importPath = strings.TrimPrefix(importPath, modulePath)

		toLevel := getPackageLevel(importPath)
		if toLevel == 0 {
			continue
		}

		// a package may only import its own level or lower ones
		if toLevel < fromLevel {
			violations = append(violations, Violation{
				FromFile:    filePath,
				FromPackage: fromPackage,
				FromLevel:   fromLevel,
				ToPackage:   importPath,
				ToLevel:     toLevel,
			})
		}
	}
	return violations, nil
}

func walkGoFiles(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			name := info.Name()
			if path != root && (name == "vendor" || name == "testdata" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// check walks root and returns every layering violation and the number of
// files inspected
func check(root string) ([]Violation, int, error) {
	files, err := walkGoFiles(root)
	if err != nil {
		return nil, 0, err
	}

	var all []Violation
	for _, file := range files {
		violations, err := checkFile(root, file)
		if err != nil {
			return nil, 0, fmt.Errorf("checking %s: %w", file, err)
		}
		all = append(all, violations...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].FromFile < all[j].FromFile })
	return all, len(files), nil
}

func levelName(l Level) string {
	switch l {
	case LevelCmd:
		return "CMD (Level 1)"
	case LevelRun:
		return "RUN (Level 2)"
	case LevelAdapter:
		return "ADAPTER (Level 3)"
	case LevelDomain:
		return "DOMAIN (Level 4)"
	case LevelBase:
		return "BASE (Level 5)"
	case LevelPkg:
		return "PKG (Level 6)"
	default:
		return "UNKNOWN"
	}
}

func report(w io.Writer, violations []Violation, checked int) {
	fmt.Fprintf(w, "Checked %d Go files\n", checked)
	if len(violations) == 0 {
		fmt.Fprintln(w, "No layering violations found")
		return
	}

	fmt.Fprintf(w, "Found %d layering violations:\n", len(violations))
	for _, v := range violations {
		fmt.Fprintf(w, "  %s\n    %s imports %s (%s → %s)\n",
			v.FromFile, v.FromPackage, v.ToPackage, levelName(v.FromLevel), levelName(v.ToLevel))
	}
	fmt.Fprintln(w, "\nRule: a package may import only its own level or a higher-numbered one")
}

func main() {
	root := "."
	if len(os.Args) > 1 {
		root = os.Args[1]
	}

	violations, checked, err := check(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "archcheck: %v\n", err)
		os.Exit(1)
	}

	report(os.Stdout, violations, checked)
	if len(violations) > 0 {
		os.Exit(1)
	}
}
