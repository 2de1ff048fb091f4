// Package permission implements C2: the policy engine that classifies a
// proposed shell command's risk, matches it against pattern rules, and
// combines that with the session's autonomy level to decide whether a
// tool call auto-approves, needs the user's approval, or is blocked
// outright (spec §4.3).
package permission

import (
	"strings"

	"github.com/haasonsaas/cortex/internal/proto"
)

// Category is the command classifier's bucket, independent of RiskLevel
// (two categories can share a level; the table in spec §4.2 lists both).
type Category string

const (
	CategoryReadOnly       Category = "read_only"
	CategoryDangerous      Category = "dangerous"
	CategoryPackageManager Category = "package_manager"
	CategoryGit            Category = "git"
	CategoryBuild          Category = "build"
	CategorySystem         Category = "system"
	CategoryNetwork        Category = "network"
	CategoryFileSystem     Category = "file_system"
	CategoryUnknown        Category = "unknown"
)

// Classification is the outcome of classifying one command string.
type Classification struct {
	Level    proto.RiskLevel
	Category Category
	Reason   string
}

var readOnlyPrefixes = []string{
	"ls", "cat", "head", "tail", "grep", "rg", "find", "pwd", "whoami",
	"date", "uname", "ps", "df", "du", "wc", "echo", "printf", "env",
	"which", "type", "file", "stat",
}

var readOnlyGitSubcommands = []string{"status", "log", "diff", "branch", "show"}

// dangerousSubstrings are checked anywhere in the command, not just as a
// prefix — spec §4.2 "substring match".
var dangerousSubstrings = []string{
	"rm -rf /", "rm -rf ~", "dd ", "mkfs", "fdisk", ":(){:|:&};:",
	"chmod -R 777 /", "> /dev/", "shutdown", "reboot", "halt", "poweroff",
}

var packageManagerPrefixes = []string{
	"npm", "yarn", "pnpm", "pip", "pip3", "cargo", "go get", "gem",
	"bundle", "composer", "apt", "brew", "dnf", "yum",
}

var buildPrefixes = []string{
	"make", "cmake", "ninja", "gradle", "mvn", "ant", "npm run",
	"cargo build", "go build",
}

var systemPrefixes = []string{
	"sudo", "su", "systemctl", "service", "chown", "chmod", "useradd",
	"userdel", "passwd", "visudo",
}

var networkPrefixes = []string{"curl", "wget", "ssh", "scp", "rsync", "nc", "netcat"}

var fileSystemPrefixes = []string{"rm", "mv", "cp", "mkdir", "rmdir", "touch", "ln"}

func hasPrefix(cmd string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		if cmd == p || strings.HasPrefix(cmd, p+" ") {
			return p, true
		}
	}
	return "", false
}

// Classify assigns a Category and RiskLevel to a shell command string per
// the exact table in spec §4.2. It does not perform the safety-interlock
// check (see Interlocked) — that is a separate, non-overridable gate
// consulted earlier in Decide.
func Classify(command string) Classification {
	cmd := strings.TrimSpace(command)
	lower := strings.ToLower(cmd)

	for _, s := range dangerousSubstrings {
		if strings.Contains(lower, s) {
			return Classification{Level: proto.RiskCritical, Category: CategoryDangerous, Reason: "matches dangerous pattern: " + s}
		}
	}

	if strings.HasPrefix(lower, "git ") || lower == "git" {
		rest := strings.TrimSpace(strings.TrimPrefix(lower, "git"))
		if strings.HasPrefix(rest, "push") {
			return Classification{Level: proto.RiskHigh, Category: CategoryGit, Reason: "git push"}
		}
		for _, sub := range readOnlyGitSubcommands {
			if strings.HasPrefix(rest, sub) {
				return Classification{Level: proto.RiskSafe, Category: CategoryReadOnly, Reason: "read-only git subcommand"}
			}
		}
		return Classification{Level: proto.RiskMedium, Category: CategoryGit, Reason: "git subcommand"}
	}

	if p, ok := hasPrefix(lower, readOnlyPrefixes); ok {
		return Classification{Level: proto.RiskSafe, Category: CategoryReadOnly, Reason: "read-only command: " + p}
	}
	if p, ok := hasPrefix(lower, systemPrefixes); ok {
		return Classification{Level: proto.RiskHigh, Category: CategorySystem, Reason: "system command: " + p}
	}
	if p, ok := hasPrefix(lower, packageManagerPrefixes); ok {
		return Classification{Level: proto.RiskMedium, Category: CategoryPackageManager, Reason: "package manager: " + p}
	}
	if p, ok := hasPrefix(lower, buildPrefixes); ok {
		return Classification{Level: proto.RiskMedium, Category: CategoryBuild, Reason: "build command: " + p}
	}
	if p, ok := hasPrefix(lower, networkPrefixes); ok {
		return Classification{Level: proto.RiskMedium, Category: CategoryNetwork, Reason: "network command: " + p}
	}
	if p, ok := hasPrefix(lower, fileSystemPrefixes); ok {
		return Classification{Level: proto.RiskLow, Category: CategoryFileSystem, Reason: "filesystem command: " + p}
	}

	return Classification{Level: proto.RiskMedium, Category: CategoryUnknown, Reason: "unrecognized command defaults to medium risk"}
}

// Interlocked reports whether command matches the hard-coded safety
// blocklist: the Dangerous category substrings, plus command
// substitution via $( or a backtick. These patterns are never
// overridable by user rules, regardless of autonomy level (spec §4.3
// step 2, except SkipPermissionsUnsafe).
func Interlocked(command string) (bool, string) {
	lower := strings.ToLower(command)
	for _, s := range dangerousSubstrings {
		if strings.Contains(lower, s) {
			return true, "safety interlock: matches " + s
		}
	}
	if strings.Contains(command, "$(") || strings.Contains(command, "`") {
		return true, "safety interlock: command substitution detected"
	}
	return false, ""
}
