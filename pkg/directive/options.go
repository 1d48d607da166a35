package directive

import (
	"time"
)

// Option keys understood by Parse.
const (
	OptBackend    = "backend"
	OptTPMDevice  = "tpm_device"
	OptSudo       = "sudo"
	OptResetTool  = "reset_tool"
	OptExtendTool = "extend_tool"
	OptTimeout    = "timeout"
	OptDebug      = "debug"
	OptSyslog     = "syslog"
)

// Backends selectable with backend=.
const (
	BackendTool   = "tool"
	BackendDevice = "device"
)

// Defaults applied when a setting is not configured.
const (
	DefaultIdentity   = "tss"
	DefaultBackend    = BackendTool
	DefaultTPMDevice  = "/dev/tpmrm0"
	DefaultSudo       = "/usr/bin/sudo"
	DefaultResetTool  = "/usr/bin/tpm2_pcrreset"
	DefaultExtendTool = "/usr/bin/tpm2_pcrextend"
	DefaultTimeout    = 30 * time.Second
)

var optionKeys = map[string]struct{}{
	OptBackend:    {},
	OptTPMDevice:  {},
	OptSudo:       {},
	OptResetTool:  {},
	OptExtendTool: {},
	OptTimeout:    {},
	OptDebug:      {},
	OptSyslog:     {},
}

func flagOption(key string) bool {
	return key == OptDebug || key == OptSyslog
}

// Options holds backend and logging settings. The zero value is not useful;
// start from DefaultOptions.
type Options struct {
	Backend    string
	TPMDevice  string
	Sudo       string
	ResetTool  string
	ExtendTool string
	// Timeout bounds each privileged operation. Zero waits indefinitely.
	Timeout time.Duration
	Debug   bool
	Syslog  bool
}

// DefaultOptions returns the settings used when no option directive is given.
func DefaultOptions() Options {
	return Options{
		Backend:    DefaultBackend,
		TPMDevice:  DefaultTPMDevice,
		Sudo:       DefaultSudo,
		ResetTool:  DefaultResetTool,
		ExtendTool: DefaultExtendTool,
		Timeout:    DefaultTimeout,
	}
}

// apply folds one option into o. Values that do not parse leave o unchanged.
func (o *Options) apply(opt Option) {
	switch opt.Key {
	case OptBackend:
		if opt.Value == BackendTool || opt.Value == BackendDevice {
			o.Backend = opt.Value
		}
	case OptTPMDevice:
		if opt.Value != "" {
			o.TPMDevice = opt.Value
		}
	case OptSudo:
		if opt.Value != "" {
			o.Sudo = opt.Value
		}
	case OptResetTool:
		if opt.Value != "" {
			o.ResetTool = opt.Value
		}
	case OptExtendTool:
		if opt.Value != "" {
			o.ExtendTool = opt.Value
		}
	case OptTimeout:
		if d, err := time.ParseDuration(opt.Value); err == nil && d >= 0 {
			o.Timeout = d
		}
	case OptDebug:
		o.Debug = true
	case OptSyslog:
		o.Syslog = true
	}
}

// ParseOptions extracts only the option directives from args. It lets
// callers configure logging before the username is known.
func ParseOptions(args []string) Options {
	o := DefaultOptions()
	for _, raw := range args {
		if opt, ok := ParseDirective(raw).(Option); ok {
			o.apply(opt)
		}
	}
	return o
}
