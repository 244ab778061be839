package rootcause

import "strings"

// category is one row of the source rule table.
type category struct {
	name           string
	keywords       []string
	rootCause      string
	component      string
	recommendation string
	prevention     []string
}

// categories is consulted in order.
var categories = []category{
	{
		name:           "disk",
		keywords:       []string{"disk", "storage", "volume", "inode", "filesystem"},
		rootCause:      "Storage capacity exhausted on the affected hosts, most often by unrotated logs or temporary files.",
		component:      "storage",
		recommendation: "Enable log rotation and purge temporary files; expand the volume if usage keeps growing.",
		prevention: []string{
			"Alert at 80% disk usage instead of 95%",
			"Enforce log rotation and retention on all hosts",
			"Schedule weekly temporary file cleanup",
		},
	},
	{
		name:           "cpu",
		keywords:       []string{"cpu", "load", "throttl"},
		rootCause:      "Sustained CPU saturation from a runaway process or insufficient capacity for current load.",
		component:      "compute",
		recommendation: "Identify and restart the offending process; scale out the service if load is organic.",
		prevention: []string{
			"Set CPU limits on workloads",
			"Configure autoscaling on sustained CPU above 70%",
		},
	},
	{
		name:           "memory",
		keywords:       []string{"memory", "oom", "swap", "heap"},
		rootCause:      "Memory exhaustion caused by a leak or undersized allocation, leading to OOM kills.",
		component:      "memory",
		recommendation: "Restart the leaking service and capture a heap profile; raise memory limits if usage is legitimate.",
		prevention: []string{
			"Track memory growth per release",
			"Set memory limits and requests on workloads",
			"Add heap profiling to the service health checks",
		},
	},
	{
		name:           "network",
		keywords:       []string{"network", "latency", "packet", "dns", "timeout", "unreachable"},
		rootCause:      "Network degradation between services: packet loss, DNS failure, or a saturated link.",
		component:      "network",
		recommendation: "Check link utilisation and DNS resolution; fail over to a healthy path.",
		prevention: []string{
			"Monitor latency and packet loss between availability zones",
			"Run redundant DNS resolvers",
		},
	},
	{
		name:           "service",
		keywords:       []string{"service", "crash", "down", "process", "restart", "health"},
		rootCause:      "A service process crashed or stopped responding to health checks.",
		component:      "application",
		recommendation: "Restart the service and review its logs around the crash for the triggering error.",
		prevention: []string{
			"Configure supervised restarts with backoff",
			"Add readiness probes that exercise dependencies",
		},
	},
	{
		name:           "certificate",
		keywords:       []string{"cert", "tls", "ssl", "expir"},
		rootCause:      "A TLS certificate expired or is about to expire.",
		component:      "security",
		recommendation: "Renew the certificate and reload the services that present it.",
		prevention: []string{
			"Automate certificate renewal",
			"Alert 30 days before certificate expiry",
		},
	},
}

var fallback = category{
	name:           "unknown",
	rootCause:      "The alert cleared without a recognisable failure signature.",
	component:      "unknown",
	recommendation: "Review the alert timeline and the activities recorded during resolution.",
	prevention: []string{
		"Add a runbook for this alert source",
	},
}

// classify checks each text in turn, so the alert source outranks words
// that merely appear in its title.
func classify(texts ...string) (category, bool) {
	for _, text := range texts {
		text = strings.ToLower(text)
		for _, c := range categories {
			for _, k := range c.keywords {
				if strings.Contains(text, k) {
					return c, true
				}
			}
		}
	}
	return fallback, false
}
