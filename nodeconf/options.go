package nodeconf

// Option describes one editable configuration key with its closed set of
// allowed values. Values outside the set are rejected at stage time,
// never clamped.
type Option struct {
	Key         string
	Description string
	Allowed     []string
	Default     string
}

// Options is the closed catalogue of keys the manager edits. Keys
// outside this catalogue are preserved verbatim in the file but are not
// editable through the manager.
var Options = []Option{
	{
		Key:         "prune",
		Description: "Pruned mode target in MiB (0 disables pruning)",
		Allowed:     []string{"0", "4096", "10240", "51200"},
		Default:     "0",
	},
	{
		Key:         "maxconnections",
		Description: "Maximum peer connections",
		Allowed:     []string{"10", "25", "50", "125"},
		Default:     "125",
	},
	{
		Key:         "dbcache",
		Description: "Database cache size in MB",
		Allowed:     []string{"300", "450", "1000", "2000"},
		Default:     "450",
	},
	{
		Key:         "server",
		Description: "RPC server enabled",
		Allowed:     []string{"0", "1"},
		Default:     "0",
	},
}

// OptionFor returns the catalogue entry for key.
func OptionFor(key string) (Option, bool) {
	for _, opt := range Options {
		if opt.Key == key {
			return opt, true
		}
	}
	return Option{}, false
}

// allowed reports whether value is in the option's closed set.
func (o Option) allows(value string) bool {
	for _, v := range o.Allowed {
		if v == value {
			return true
		}
	}
	return false
}
