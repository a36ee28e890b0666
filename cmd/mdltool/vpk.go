package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Faultbox/studiobones/pkg/vpk"
)

func cmdVPK(e *env, args []string) error {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: mdltool vpk <list|extract|info> ...")
		return errUsage
	}
	switch args[0] {
	case "info":
		return cmdVPKInfo(e, args[1:])
	case "list", "ls":
		return cmdVPKList(e, args[1:])
	case "extract", "x":
		return cmdVPKExtract(e, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown vpk command: %s\n", args[0])
		return errUsage
	}
}

func cmdVPKInfo(e *env, args []string) error {
	fs := newFlagSet("vpk info", "<archive_dir.vpk>")
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}
	archive, err := vpk.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer archive.Close()

	files := archive.List()
	extCount := make(map[string]int)
	var totalSize int
	for _, f := range files {
		ext := strings.ToLower(path.Ext(f))
		if ext == "" {
			ext = "(no ext)"
		}
		extCount[ext]++
		if entry, ok := archive.Entry(f); ok {
			totalSize += entry.Size()
		}
	}

	hdr := archive.Header()
	fmt.Fprintf(e.out, "Archive: %s\n", fs.Arg(0))
	fmt.Fprintf(e.out, "Version: %d\n", hdr.Version)
	fmt.Fprintf(e.out, "Files:   %d\n", len(files))
	fmt.Fprintf(e.out, "Size:    %.2f MB\n", float64(totalSize)/(1024*1024))
	fmt.Fprintln(e.out)
	fmt.Fprintln(e.out, "Files by type:")

	type extStat struct {
		ext   string
		count int
	}
	var stats []extStat
	for ext, count := range extCount {
		stats = append(stats, extStat{ext, count})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].count != stats[j].count {
			return stats[i].count > stats[j].count
		}
		return stats[i].ext < stats[j].ext
	})
	for _, s := range stats {
		fmt.Fprintf(e.out, "  %-10s %d\n", s.ext, s.count)
	}
	return nil
}

func cmdVPKList(e *env, args []string) error {
	fs := newFlagSet("vpk list", "[-n N] <archive_dir.vpk> [pattern]")
	limit := fs.Int("n", 0, "Limit output to N files (0 = all)")
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}
	archive, err := vpk.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer archive.Close()

	pattern := ""
	if fs.NArg() > 1 {
		pattern = strings.ToLower(fs.Arg(1))
	}

	count := 0
	for _, f := range archive.List() {
		if pattern != "" && !matchName(pattern, f) {
			continue
		}
		fmt.Fprintln(e.out, f)
		count++
		if *limit > 0 && count >= *limit {
			break
		}
	}
	if pattern != "" {
		fmt.Fprintf(os.Stderr, "\n(%d files matched)\n", count)
	}
	return nil
}

// matchName matches pattern against the base name as a glob, or against
// the whole path as a substring.
func matchName(pattern, name string) bool {
	if ok, _ := path.Match(pattern, path.Base(name)); ok {
		return true
	}
	return strings.Contains(name, pattern)
}

func cmdVPKExtract(e *env, args []string) error {
	fs := newFlagSet("vpk extract", "<archive_dir.vpk> <path|pattern> [output_dir]")
	if err := parseArgs(fs, args, 2); err != nil {
		return err
	}
	outputDir := "."
	if fs.NArg() > 2 {
		outputDir = fs.Arg(2)
	}

	archive, err := vpk.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer archive.Close()

	target := strings.ToLower(strings.ReplaceAll(fs.Arg(1), "\\", "/"))
	if !strings.ContainsAny(target, "*?[") {
		if !archive.Contains(target) {
			return fmt.Errorf("file not found: %s", fs.Arg(1))
		}
		out := filepath.Join(outputDir, path.Base(target))
		if err := extractOne(archive, target, out); err != nil {
			return err
		}
		fmt.Fprintf(e.out, "Extracted: %s\n", out)
		return nil
	}

	extracted := 0
	for _, f := range archive.List() {
		if ok, _ := path.Match(target, path.Base(f)); !ok {
			continue
		}
		out := filepath.Join(outputDir, filepath.FromSlash(f))
		if err := extractOne(archive, f, out); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		fmt.Fprintf(e.out, "Extracted: %s\n", out)
		extracted++
	}
	fmt.Fprintf(os.Stderr, "\nExtracted %d files\n", extracted)
	return nil
}

func extractOne(archive *vpk.Archive, name, out string) error {
	data, err := archive.Read(name)
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	return nil
}
