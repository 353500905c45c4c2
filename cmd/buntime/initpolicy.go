package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/abgutierrez/buntime/internal/policy"
	"github.com/abgutierrez/buntime/internal/sandbox"
)

// newInitPolicyCmd implements spec.md §6's `init-policy` subcommand: it
// accepts the exact same --allow-*/--deny-* flag vocabulary as `run`, lowers
// them to a policy.Document the same way runGuest does, normalizes it, and
// emits the resulting policy document to stdout or --output <file>.
func newInitPolicyCmd() *cobra.Command {
	raw := map[string]*string{}
	var (
		f          flagSet
		outputPath string
	)

	cmd := &cobra.Command{
		Use:   "init-policy",
		Short: "Emit a policy document derived from allow/deny flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit := map[string]bool{}
			for _, name := range policyFlagNames {
				if cmd.Flags().Changed(name) {
					explicit[name] = true
				}
			}
			if cmd.Flags().Changed("allow-ffi") {
				explicit["allow-ffi"] = true
			}
			if cmd.Flags().Changed("deny-ffi") {
				explicit["deny-ffi"] = true
			}
			if cmd.Flags().Changed("allow-all") {
				explicit["allow-all"] = true
			}

			f.AllowNet = splitFlagValue(*raw["allow-net"], explicit["allow-net"])
			f.DenyNet = splitFlagValue(*raw["deny-net"], explicit["deny-net"])
			f.AllowRead = splitFlagValue(*raw["allow-read"], explicit["allow-read"])
			f.DenyRead = splitFlagValue(*raw["deny-read"], explicit["deny-read"])
			f.AllowWrite = splitFlagValue(*raw["allow-write"], explicit["allow-write"])
			f.DenyWrite = splitFlagValue(*raw["deny-write"], explicit["deny-write"])
			f.AllowRun = splitFlagValue(*raw["allow-run"], explicit["allow-run"])
			f.DenyRun = splitFlagValue(*raw["deny-run"], explicit["deny-run"])
			f.AllowEnv = splitFlagValue(*raw["allow-env"], explicit["allow-env"])
			f.DenyEnv = splitFlagValue(*raw["deny-env"], explicit["deny-env"])
			f.AllowSys = splitFlagValue(*raw["allow-sys"], explicit["allow-sys"])
			f.DenySys = splitFlagValue(*raw["deny-sys"], explicit["deny-sys"])

			return runInitPolicy(cmd, f, outputPath)
		},
	}

	for _, name := range policyFlagNames {
		raw[name] = cmd.Flags().String(name, "", policyFlagUsage[name])
		cmd.Flags().Lookup(name).NoOptDefVal = ""
	}

	cmd.Flags().BoolVar(&f.AllowFFI, "allow-ffi", false, "advise the worker it may use FFI (advisory only, not enforced by the supervisor)")
	cmd.Flags().BoolVar(&f.DenyFFI, "deny-ffi", false, "advise the worker to deny FFI (advisory only)")
	cmd.Flags().BoolVar(&f.AllowAll, "allow-all", false, "disable all policy enforcement (fs/net/exec default to allow)")
	cmd.Flags().StringVar(&outputPath, "output", "", "write the policy document to this file instead of stdout")

	return cmd
}

func runInitPolicy(cmd *cobra.Command, f flagSet, outputPath string) error {
	doc, err := f.toDocument()
	if err != nil {
		return fmt.Errorf("build policy from flags: %w", err)
	}

	if cwd, err := os.Getwd(); err == nil {
		doc.FSRules = append(doc.FSRules, mandatoryDenyRules(cwd)...)
	}

	normalized, err := policy.Normalize(doc)
	if err != nil {
		return fmt.Errorf("normalize policy: %w", err)
	}

	out, err := policy.MarshalPolicy(normalized)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	out = append(out, '\n')

	if outputPath == "" {
		_, err := cmd.OutOrStdout().Write(out)
		return err
	}
	return os.WriteFile(outputPath, out, 0o600)
}

// mandatoryDenyRules seeds init-policy's output with deny-write rules for
// the paths sandbox/dangerous.go flags as unsafe to leave writable: glob
// patterns that catch a matching path anywhere under the tree
// (sandbox.GetMandatoryDenyPatterns, not just at cwd), plus concrete paths
// for dangerous files already present in the project's nested
// subdirectories (sandbox.FindDangerousFiles). A later --allow-write entry
// in the composed policy cannot reopen these: deny always wins over allow
// for a matching rule, regardless of source or order (spec.md §4.6).
func mandatoryDenyRules(cwd string) []policy.FSRule {
	var rules []policy.FSRule
	for _, pattern := range sandbox.GetMandatoryDenyPatterns(cwd, false) {
		rules = append(rules, writeRule(policy.Deny, pattern))
	}
	for _, path := range sandbox.FindDangerousFiles(cwd, sandbox.DefaultMaxDangerousFileDepth) {
		rules = append(rules, writeRule(policy.Deny, path))
	}
	return rules
}
