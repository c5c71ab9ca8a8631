//go:build linux
// +build linux

package filter

import (
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
)

type filterImpl struct {
	comment string
}

func NewFilter(identifier string) (Filter, error) {
	if err := isIptablesEnabled(); err != nil {
		return nil, fmt.Errorf("iptables is not enabled or available: %w", err)
	}
	return &filterImpl{comment: identifier}, nil
}

func isIptablesEnabled() error {
	cmd := exec.Command("iptables", "-S")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables is not enabled or available: %v\nOutput: %s", err, string(output))
	}
	return nil
}

// AddServerFiltering drops the ICMP protocol-unreachable (type 3,
// code 2) messages the kernel sends from localIP when it gets a
// segment for protocolID, which nothing in the local stack is bound
// to receive.
func (f *filterImpl) AddServerFiltering(localIP string, protocolID int) error {
	ruleCheck := fmt.Sprintf("-A OUTPUT -p icmp --icmp-type 3/2 -s %s -m comment --comment \"%s\" -j DROP", localIP, f.ruleComment(protocolID))

	cmd := exec.Command("iptables", "-S", "OUTPUT")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to list iptables rules: %v\nOutput: %s", err, string(output))
	}
	if strings.Contains(string(output), ruleCheck) {
		log.Printf("rule already exists: %s", ruleCheck)
		return nil
	}

	cmd = exec.Command("iptables", "-A", "OUTPUT", "-p", "icmp", "--icmp-type", "3/2",
		"-s", localIP, "-m", "comment", "--comment", f.ruleComment(protocolID), "-j", "DROP")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to add iptables rule: %v", err)
	}
	log.Printf("added icmp suppression rule: %s", ruleCheck)
	return nil
}

func (f *filterImpl) RemoveServerFiltering(localIP string, protocolID int) error {
	cmd := exec.Command("iptables", "-D", "OUTPUT", "-p", "icmp", "--icmp-type", "3/2",
		"-s", localIP, "-m", "comment", "--comment", f.ruleComment(protocolID), "-j", "DROP")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to remove iptables rule: %v", err)
	}
	return nil
}

// FinishFiltering removes every rule this Filter's comment tag owns.
func (f *filterImpl) FinishFiltering() error {
	cmd := exec.Command("iptables", "-S", "OUTPUT")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to list iptables rules: %v\nOutput: %s", err, string(output))
	}

	var deleteErrors []string
	for _, line := range strings.Split(string(output), "\n") {
		if strings.Contains(line, "--comment \""+f.comment) {
			deleteCmd := strings.Replace(line, "-A", "-D", 1)
			cmd := exec.Command("sh", "-c", "iptables "+deleteCmd)
			if out, err := cmd.CombinedOutput(); err != nil {
				deleteErrors = append(deleteErrors, fmt.Sprintf("%s\nError: %s", deleteCmd, string(out)))
			}
		}
	}
	if len(deleteErrors) > 0 {
		return fmt.Errorf("some rules failed to delete:\n%s", strings.Join(deleteErrors, "\n"))
	}
	return nil
}

func (f *filterImpl) ruleComment(protocolID int) string {
	return f.comment + ":" + strconv.Itoa(protocolID)
}
