package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/cryguy/nexo"
	"github.com/cryguy/nexo/internal/core"
	"github.com/cryguy/nexo/internal/source"
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a function file once and print the response",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "function source (.js or .ts)", Required: true},
			&cli.StringFlag{Name: "request", Aliases: []string{"r"}, Usage: "JSON file holding the invocation request"},
			&cli.StringSliceFlag{Name: "env", Aliases: []string{"e"}, Usage: "function env entry KEY=VALUE, repeatable"},
			&cli.Uint64Flag{Name: "timeout-ms", Usage: "execution time limit", Value: 1000},
			&cli.UintFlag{Name: "memory-mb", Usage: "heap limit", Value: 128},
		},
		Action: runOnce,
	}
}

func runOnce(c *cli.Context) error {
	path := c.String("file")
	code, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var req core.InvocationRequest
	if rp := c.String("request"); rp != "" {
		data, err := os.ReadFile(rp)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("parsing %s: %w", rp, err)
		}
	}

	env, err := parseEnv(c.StringSlice("env"))
	if err != nil {
		return err
	}

	rt, err := nexo.New(nexo.Options{StorePath: ":memory:", DisableMetrics: true})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	fn, err := rt.CreateFunction(nexo.CreateFunctionRequest{
		Name:     filepath.Base(path),
		Code:     string(code),
		Language: languageOf(path),
		Route:    "/",
		Methods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		Env:      env,
		Limits: &nexo.FunctionLimits{
			MaxExecutionTimeMs: c.Uint64("timeout-ms"),
			MaxMemoryMB:        uint32(c.Uint("memory-mb")),
		},
	})
	if err != nil {
		return err
	}

	resp, err := rt.Invoke(c.Context, fn.ID, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if resp.Status >= 500 {
		return cli.Exit("", 1)
	}
	return nil
}

func parseEnv(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("env entry %q is not KEY=VALUE", p)
		}
		env[k] = v
	}
	return env, nil
}

func languageOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".mts", ".cts":
		return core.LanguageTypeScript
	}
	return core.LanguageJavaScript
}

func CheckCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Syntax-check a function file without running it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "function source (.js or .ts)", Required: true},
		},
		Action: func(c *cli.Context) error {
			path := c.String("file")
			code, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if err := source.Check(string(code), languageOf(path)); err != nil {
				return cli.Exit(fmt.Sprintf("%s: %v", path, err), 1)
			}
			fmt.Fprintf(c.App.Writer, "%s: ok\n", path)
			return nil
		},
	}
}
