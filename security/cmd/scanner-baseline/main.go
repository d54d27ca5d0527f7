// Command scanner-baseline gates CI on scanner output. It diffs the
// current gosec and govulncheck reports against checked-in allowlists:
// findings missing from the allowlist fail the run, allowlist entries no
// longer reported are flagged as stale so the lists shrink over time.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// allowlist is a set of finding fingerprints loaded from a baseline file.
type allowlist map[string]struct{}

func loadAllowlist(path string) (allowlist, error) {
	// #nosec G304 -- path comes from CI flags, not user input.
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	set := allowlist{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimSpace(line); line != "" {
			set[line] = struct{}{}
		}
	}
	return set, sc.Err()
}

// split partitions current findings into unknown (not allowlisted) and
// reports which allowlist entries went stale.
func (a allowlist) split(current []string) (unknown, stale []string) {
	seen := map[string]struct{}{}
	for _, f := range current {
		seen[f] = struct{}{}
		if _, ok := a[f]; !ok {
			unknown = append(unknown, f)
		}
	}
	for f := range a {
		if _, ok := seen[f]; !ok {
			stale = append(stale, f)
		}
	}
	sort.Strings(unknown)
	sort.Strings(stale)
	return unknown, stale
}

func main() {
	var (
		gosecReport  = flag.String("gosec-report", "", "gosec JSON report")
		gosecAllow   = flag.String("gosec-baseline", "", "gosec allowlist file")
		govulnReport = flag.String("govuln-report", "", "govulncheck JSON stream")
		govulnAllow  = flag.String("govuln-baseline", "", "govulncheck allowlist file")
		ignoreStdlib = flag.Bool("ignore-stdlib", false, "do not fail on stdlib-only govulncheck findings")
	)
	flag.Parse()

	if *gosecReport == "" || *gosecAllow == "" || *govulnReport == "" || *govulnAllow == "" {
		fmt.Fprintln(os.Stderr, "all four report/baseline flags are required")
		os.Exit(2)
	}

	root, err := os.Getwd()
	if err != nil {
		fatalf("resolve working directory: %v", err)
	}

	gosecFindings, err := collectGosec(*gosecReport, root)
	if err != nil {
		fatalf("gosec report: %v", err)
	}
	vulnFindings, err := collectGovulncheck(*govulnReport, root)
	if err != nil {
		fatalf("govulncheck report: %v", err)
	}

	gosecBase, err := loadAllowlist(*gosecAllow)
	if err != nil {
		fatalf("gosec baseline: %v", err)
	}
	vulnBase, err := loadAllowlist(*govulnAllow)
	if err != nil {
		fatalf("govulncheck baseline: %v", err)
	}

	failed := false
	failed = report("gosec", gosecBase, gosecFindings) || failed

	var checked []string
	for _, f := range vulnFindings {
		if f.stdlib && *ignoreStdlib {
			fmt.Printf("ignoring stdlib finding %s (fixed in %s)\n", f.fingerprint, orUnknown(f.fixedVersion))
			continue
		}
		checked = append(checked, f.fingerprint)
	}
	failed = report("govulncheck", vulnBase, checked) || failed

	if failed {
		os.Exit(1)
	}
	fmt.Printf("scanner baseline clean (gosec=%d, govulncheck=%d)\n", len(gosecFindings), len(vulnFindings))
}

// report prints unknown and stale findings for one tool and reports
// whether the run should fail.
func report(tool string, base allowlist, current []string) bool {
	unknown, stale := base.split(current)
	for _, f := range unknown {
		fmt.Fprintf(os.Stderr, "%s: new finding not in baseline: %s\n", tool, f)
	}
	for _, f := range stale {
		fmt.Printf("%s: stale baseline entry, remove: %s\n", tool, f)
	}
	return len(unknown) > 0
}

func collectGosec(path, root string) ([]string, error) {
	// #nosec G304 -- path comes from CI flags, not user input.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc struct {
		GolangErrors map[string]json.RawMessage `json:"Golang errors"`
		Issues       []struct {
			RuleID string `json:"rule_id"`
			File   string `json:"file"`
			Line   string `json:"line"`
		} `json:"Issues"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.GolangErrors) > 0 {
		return nil, fmt.Errorf("gosec failed to load %d package(s)", len(doc.GolangErrors))
	}

	seen := map[string]struct{}{}
	var out []string
	for _, issue := range doc.Issues {
		rule := strings.TrimSpace(issue.RuleID)
		if rule == "" {
			rule = "UNKNOWN"
		}
		line := strings.TrimSpace(issue.Line)
		if line == "" {
			line = "0"
		}
		fp := rule + "|" + relPath(issue.File, root) + "|" + line
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, fp)
	}
	return out, nil
}

type vulnFinding struct {
	fingerprint  string
	stdlib       bool
	fixedVersion string
}

// collectGovulncheck walks the govulncheck JSON stream. OSV entries arrive
// before the findings that reference them, so stdlib classification is
// resolvable in one pass.
func collectGovulncheck(path, root string) ([]vulnFinding, error) {
	// #nosec G304 -- path comes from CI flags, not user input.
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type osvEntry struct {
		ID       string `json:"id"`
		Affected []struct {
			Package struct {
				Name string `json:"name"`
			} `json:"package"`
		} `json:"affected"`
	}
	type finding struct {
		OSV          string `json:"osv"`
		FixedVersion string `json:"fixed_version"`
		Trace        []struct {
			Module   string `json:"module"`
			Position struct {
				Filename string `json:"filename"`
				Line     int    `json:"line"`
			} `json:"position"`
		} `json:"trace"`
	}

	stdlibIDs := map[string]bool{}
	seen := map[string]struct{}{}
	var out []vulnFinding

	dec := json.NewDecoder(f)
	for {
		var msg map[string]json.RawMessage
		if err := dec.Decode(&msg); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}

		if raw, ok := msg["osv"]; ok {
			var osv osvEntry
			if err := json.Unmarshal(raw, &osv); err != nil {
				return nil, err
			}
			for _, aff := range osv.Affected {
				if strings.EqualFold(aff.Package.Name, "stdlib") {
					stdlibIDs[osv.ID] = true
				}
			}
		}

		raw, ok := msg["finding"]
		if !ok {
			continue
		}
		var fd finding
		if err := json.Unmarshal(raw, &fd); err != nil {
			return nil, err
		}
		if fd.OSV == "" {
			continue
		}

		module, file, line := "unknown", "-", 0
		if len(fd.Trace) > 0 {
			if fd.Trace[0].Module != "" {
				module = fd.Trace[0].Module
			}
			last := fd.Trace[len(fd.Trace)-1]
			if last.Position.Filename != "" {
				file = relPath(last.Position.Filename, root)
				line = last.Position.Line
			}
		}

		fp := fmt.Sprintf("%s|%s|%s|%d", fd.OSV, module, file, line)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, vulnFinding{
			fingerprint:  fp,
			stdlib:       stdlibIDs[fd.OSV],
			fixedVersion: fd.FixedVersion,
		})
	}
	return out, nil
}

func relPath(path, root string) string {
	if path == "" {
		return "-"
	}
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) {
		if rel, err := filepath.Rel(root, clean); err == nil {
			clean = rel
		}
	}
	return filepath.ToSlash(clean)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
