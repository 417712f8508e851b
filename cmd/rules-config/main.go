package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	secrules "github.com/end2endlogic-com/quantum-framework-sub001"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "check":
		handleCheck()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("rules-config - Configuration tool for the security rule engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  rules-config convert <input> <output>                     - Convert between formats")
	fmt.Println("  rules-config validate <file>                              - Validate configuration")
	fmt.Println("  rules-config stats <file>                                 - Show configuration statistics")
	fmt.Println("  rules-config check <file> <user> <area> <domain> <action> - Evaluate a decision")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: rules-config convert <input> <output>")
		os.Exit(1)
	}

	inputFile := os.Args[2]
	outputFile := os.Args[3]

	cfg, err := loadConfig(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := saveConfig(cfg, outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rules-config validate <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ruleCount := 0
	for _, p := range cfg.Policies {
		ruleCount += len(p.Rules)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version:  %d\n", cfg.Version)
	fmt.Printf("  Realm:    %s\n", cfg.DefaultRealm)
	fmt.Printf("  Policies: %d\n", len(cfg.Policies))
	fmt.Printf("  Rules:    %d\n", ruleCount)
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rules-config stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Println()

	allowCount := 0
	denyCount := 0
	finalCount := 0
	ruleCount := 0
	for _, p := range cfg.Policies {
		for _, r := range p.Rules {
			ruleCount++
			if r.Effect == secrules.Allow {
				allowCount++
			} else {
				denyCount++
			}
			if r.FinalRule {
				finalCount++
			}
		}
	}

	fmt.Println("Components:")
	fmt.Printf("  Policies: %d\n", len(cfg.Policies))
	fmt.Printf("  Rules:    %d\n", ruleCount)
	fmt.Println()

	if ruleCount > 0 {
		fmt.Println("Rule Details:")
		fmt.Printf("  Allow rules: %d\n", allowCount)
		fmt.Printf("  Deny rules:  %d\n", denyCount)
		fmt.Printf("  Final rules: %d\n", finalCount)
		fmt.Println()
	}

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Default realm:     %s\n", cfg.DefaultRealm)
	fmt.Printf("  Case sensitive:    %v\n", cfg.CaseSensitive)
	fmt.Printf("  Index enabled:     %v\n", cfg.IndexEnabled)
	fmt.Printf("  Script timeout:    %dms\n", cfg.ScriptTimeoutMS)
	fmt.Printf("  Cache counters:    %d\n", cfg.Engine.RistrettoNumCounter)
	fmt.Printf("  Cache max cost:    %d\n", cfg.Engine.RistrettoMaxCost)
}

func handleCheck() {
	if len(os.Args) < 7 {
		fmt.Println("Usage: rules-config check <file> <user> <area> <domain> <action>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	engine, err := secrules.NewEngine()
	if err != nil {
		fmt.Printf("Error creating engine: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := engine.ApplyConfig(ctx, cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	pctx := secrules.NewPrincipal(os.Args[3]).
		WithDefaultRealm(cfg.DefaultRealm).
		Build()
	rctx := secrules.NewResource(os.Args[4], os.Args[5], os.Args[6]).Build()

	resp, err := engine.CheckRules(ctx, pctx, rctx)
	if err != nil {
		fmt.Printf("Error evaluating: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Decision: %s\n", resp.FinalEffect)
	fmt.Printf("  Rules evaluated: %d\n", len(resp.EvaluatedRules))
	fmt.Printf("  Rules matched:   %d\n", len(resp.MatchedRuleResults))
	for _, rr := range resp.MatchedRuleResults {
		fmt.Printf("    %s -> %s\n", rr.Rule.Name, rr.DeterminedEffect)
	}
}

func loadConfig(filename string) (*secrules.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	loader := secrules.NewConfigLoader()
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".yaml", ".yml":
		return loader.LoadYAML(data)
	case ".json":
		return loader.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func saveConfig(cfg *secrules.Config, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))

	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
