package cli

import (
	"strings"

	"github.com/specialistvlad/gridlaunch/internal/app"
	"github.com/specialistvlad/gridlaunch/internal/launchfile"
	"github.com/specialistvlad/gridlaunch/internal/model"
)

// applyLaunchFile fills cfg from file wherever the matching flag was not
// given explicitly. The file's script is used only when no script was
// given on the command line.
func applyLaunchFile(cfg *app.Config, file *launchfile.Config, set map[string]bool, hasScript bool) {
	str := func(flag string, dst *string, v string) {
		if !set[flag] && v != "" {
			*dst = v
		}
	}
	num := func(flag string, dst *int, v int) {
		if !set[flag] && v != 0 {
			*dst = v
		}
	}
	list := func(flag string, dst *[]string, v []string) {
		if !set[flag] && len(v) > 0 {
			*dst = v
		}
	}

	// A topology given on the command line replaces the file's entirely.
	if !set["instances"] && !set["ps"] && !set["worker"] {
		cfg.Instances = strings.Join(file.Instances, ",")
		cfg.PS = strings.Join(file.PS, ",")
		cfg.Workers = strings.Join(file.Workers, ",")
	}

	str("ssh_user", &cfg.SSHUser, file.SSHUser)
	str("ssh_key_file", &cfg.SSHKeyFile, file.SSHKeyFile)
	num("ssh_port", &cfg.SSHPort, file.SSHPort)
	str("http_proxy", &cfg.HTTPProxy, file.HTTPProxy)
	num("connect_attempts", &cfg.ConnectAttempts, file.ConnectAttempts)
	if !set["connect_interval"] && file.ConnectInterval != nil {
		cfg.ConnectInterval = *file.ConnectInterval
	}
	if !set["connect_timeout"] && file.ConnectTimeout > 0 {
		cfg.ConnectTimeout = file.ConnectTimeout
	}
	if !set["strict_host_keys"] && file.StrictHostKeys {
		cfg.StrictHostKeys = true
	}
	list("known_hosts", &cfg.KnownHosts, file.KnownHosts)

	num("master_port", &cfg.MasterPort, file.MasterPort)
	list("aux_files", &cfg.AuxFiles, file.AuxFiles)
	str("prepare_cmd", &cfg.PrepareCmd, file.PrepareCmd)
	if !set["interpreter"] && file.Interpreter != nil {
		cfg.Interpreter = *file.Interpreter
	}
	if !hasScript && file.Script != "" {
		cfg.Script = file.Script
		cfg.ScriptArgs = file.ScriptArgs
	}

	var env model.Environment
	for _, v := range file.Environment.Vars() {
		env.Set(v.Name, v.Value)
	}
	for _, v := range cfg.ExtraEnv.Vars() {
		env.Set(v.Name, v.Value)
	}
	cfg.ExtraEnv = env

	str("events-url", &cfg.EventsURL, file.EventsURL)
	str("events-namespace", &cfg.EventsNamespace, file.EventsNamespace)
}
