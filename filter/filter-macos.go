//go:build darwin
// +build darwin

package filter

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

type filterImpl struct {
	anchor string
}

func NewFilter(identifier string) (Filter, error) {
	enabled, err := isPFEnabled()
	if err != nil || !enabled {
		return nil, fmt.Errorf("PF service is not enabled: %v", err)
	}
	if err := isLibpcapInstalled(); err != nil {
		return nil, fmt.Errorf("libpcap check failed: %v", err)
	}
	refExists, err := pfCheckAnchor(identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to check anchor reference in /etc/pf.conf: %v", err)
	}
	if !refExists {
		return nil, fmt.Errorf("anchor reference to %s does not exist in /etc/pf.conf, please add it", identifier)
	}
	return &filterImpl{anchor: identifier}, nil
}

// AddServerFiltering adds a PF rule blocking outbound ICMP
// protocol-unreachable replies from localIP, so the kernel's reaction
// to an unrecognized protocolID segment never reaches the peer.
func (f *filterImpl) AddServerFiltering(localIP string, protocolID int) error {
	currentRules, err := getPfRules(f.anchor)
	if err != nil {
		return fmt.Errorf("failed to retrieve current rules: %v", err)
	}

	newRule := fmt.Sprintf("block drop out quick inet proto icmp from %s to any icmp-type 3 code 2", localIP)
	if !containsRule(currentRules, newRule) {
		currentRules = append(currentRules, newRule)
	}

	rulesText := strings.Join(currentRules, "\n")
	if err := pfLoadRules(f.anchor, rulesText); err != nil {
		return fmt.Errorf("failed to load updated rules: %v", err)
	}
	if err := verifyRuleExactMatch(f.anchor, newRule); err != nil {
		return fmt.Errorf("rule verification failed: %v", err)
	}
	return nil
}

func (f *filterImpl) RemoveServerFiltering(localIP string, protocolID int) error {
	currentRules, err := getPfRules(f.anchor)
	if err != nil {
		return fmt.Errorf("failed to retrieve current rules: %v", err)
	}

	ruleToRemove := fmt.Sprintf("block drop out quick inet proto icmp from %s to any icmp-type 3 code 2", localIP)
	var updatedRules []string
	for _, rule := range currentRules {
		if strings.TrimSpace(rule) != strings.TrimSpace(ruleToRemove) {
			updatedRules = append(updatedRules, rule)
		}
	}

	rulesText := strings.Join(updatedRules, "\n") + "\n"
	return pfLoadRules(f.anchor, rulesText)
}

// FinishFiltering flushes every rule in the anchor.
func (f *filterImpl) FinishFiltering() error {
	cmd := exec.Command("pfctl", "-a", f.anchor, "-F", "rules")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to flush rules for anchor %s: %v\nCommand output: %s", f.anchor, err, string(output))
	}
	return nil
}

// ======== PF control helpers ========

func isPFEnabled() (bool, error) {
	output, err := exec.Command("pfctl", "-s", "info").CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("pfctl check failed: %v\nOutput: %s", err, string(output))
	}
	return strings.Contains(string(output), "Status: Enabled"), nil
}

func pfCheckAnchor(anchor string) (bool, error) {
	data, err := os.ReadFile("/etc/pf.conf")
	if err != nil {
		return false, fmt.Errorf("failed to read /etc/pf.conf: %v", err)
	}
	return strings.Contains(string(data), fmt.Sprintf("anchor \"%s\"", anchor)), nil
}

func getPfRules(anchor string) ([]string, error) {
	cmd := exec.Command("pfctl", "-a", anchor, "-s", "rules")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to query PF rules: %v\nOutput: %s", err, string(output))
	}

	var rules []string
	for _, line := range strings.Split(string(output), "\n") {
		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "block") {
			rules = append(rules, trimmed)
		}
	}
	return rules, nil
}

func pfLoadRules(anchor, rules string) error {
	cmd := exec.Command("sh", "-c", fmt.Sprintf("echo %q | sudo /sbin/pfctl -a %s -f -", rules, anchor))
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to load PF rules: %v\nCommand output: %s", err, string(output))
	}
	return nil
}

func verifyRuleExactMatch(anchor, expectedRule string) error {
	cmd := exec.Command("/sbin/pfctl", "-a", anchor, "-s", "rules")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to query PF rules: %v", err)
	}
	if !strings.Contains(strings.TrimSpace(string(output)), strings.TrimSpace(expectedRule)) {
		return fmt.Errorf("rule does not match\nCurrent rules:\n%s\nExpected:\n%s", output, expectedRule)
	}
	return nil
}

func containsRule(rules []string, target string) bool {
	target = strings.TrimSpace(target)
	for _, rule := range rules {
		if strings.TrimSpace(rule) == target {
			return true
		}
	}
	return false
}

func isLibpcapInstalled() error {
	output, err := exec.Command("which", "tcpdump").CombinedOutput()
	if err != nil || strings.TrimSpace(string(output)) == "" {
		return fmt.Errorf("libpcap is not installed or tcpdump is not available: %v", err)
	}
	return nil
}
