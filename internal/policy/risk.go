package policy

import "strings"

// highRiskCommands always classify high regardless of arguments: destructive
// filesystem/system operations, privilege changes, and network egress tools.
var highRiskCommands = map[string]struct{}{
	"rm": {}, "mkfs": {}, "dd": {}, "shutdown": {}, "reboot": {},
	"halt": {}, "poweroff": {}, "sudo": {}, "su": {}, "chown": {},
	"chmod": {}, "useradd": {}, "userdel": {}, "usermod": {}, "passwd": {},
	"mount": {}, "umount": {}, "iptables": {}, "ufw": {}, "firewall-cmd": {},
	"curl": {}, "wget": {}, "nc": {}, "ncat": {}, "netcat": {}, "scp": {},
	"ssh": {}, "ftp": {}, "telnet": {},
}

// highRiskLiterals are matched as exact substrings of the whole command.
var highRiskLiterals = []string{
	"rm -rf /",
	"rm -fr /",
	":(){:|:&};:",
}

// mediumRiskVerbs maps a command to the subcommands that make it medium risk.
var mediumRiskVerbs = map[string]map[string]struct{}{
	"git": {
		"commit": {}, "push": {}, "reset": {}, "clean": {}, "rebase": {},
		"merge": {}, "cherry-pick": {}, "revert": {}, "branch": {},
		"checkout": {}, "switch": {}, "tag": {},
	},
	"npm":  npmVerbs(),
	"pnpm": npmVerbs(),
	"yarn": npmVerbs(),
	"cargo": {
		"add": {}, "remove": {}, "install": {}, "clean": {}, "publish": {},
	},
}

func npmVerbs() map[string]struct{} {
	return map[string]struct{}{
		"install": {}, "add": {}, "remove": {}, "uninstall": {},
		"update": {}, "publish": {},
	}
}

// mediumRiskCommands are medium regardless of arguments (filesystem writes).
var mediumRiskCommands = map[string]struct{}{
	"touch": {}, "mkdir": {}, "mv": {}, "cp": {}, "ln": {},
}

// CommandRiskLevel classifies the whole command: the maximum risk across its
// segments. Oversized commands classify high without analysis.
func CommandRiskLevel(command string) RiskLevel {
	if len(command) > MaxAnalysisLen {
		return RiskHigh
	}
	for _, lit := range highRiskLiterals {
		if strings.Contains(command, lit) {
			return RiskHigh
		}
	}

	risk := RiskLow
	for _, seg := range splitSegments(command) {
		segRisk := segmentRiskLevel(seg)
		if riskOrdinal(segRisk) > riskOrdinal(risk) {
			risk = segRisk
		}
		if risk == RiskHigh {
			return RiskHigh
		}
	}
	return risk
}

// segmentRiskLevel classifies one segment by its basename and first verb.
func segmentRiskLevel(segment string) RiskLevel {
	exe := segmentExecutable(segment)
	if exe == "" {
		return RiskLow
	}
	base := basename(exe)

	if _, ok := highRiskCommands[base]; ok {
		return RiskHigh
	}
	if _, ok := mediumRiskCommands[base]; ok {
		return RiskMedium
	}
	if verbs, ok := mediumRiskVerbs[base]; ok {
		toks := strings.Fields(segment)
		i := 0
		for i < len(toks) && envAssignRe.MatchString(toks[i]) {
			i++ // leading env assignments
		}
		i++ // the executable itself
		for ; i < len(toks); i++ {
			if strings.HasPrefix(toks[i], "-") {
				continue
			}
			if _, hit := verbs[toks[i]]; hit {
				return RiskMedium
			}
			break // only the first non-flag token is the verb
		}
	}
	return RiskLow
}
