package core

import (
	"fmt"
	"strings"
)

// TestType selects which address family a probe run covers.
type TestType string

const (
	TestTypeIPv4 TestType = "IPV4"
	TestTypeIPv6 TestType = "IPV6"
)

// Record is a named bundle of provider credentials and probing parameters.
// It is handled as a value: edits produce a new Record via Clone.
type Record struct {
	Cloudflare CloudflareSettings `yaml:"cloudflare" json:"Cloudflare"`
	SpeedTest  SpeedTestSettings  `yaml:"speed_test" json:"SpeedTest"`
}

// CloudflareSettings holds the DNS provider credentials and target domains.
type CloudflareSettings struct {
	APIKey      string   `yaml:"api_key" json:"APIKey"`
	ZoneID      string   `yaml:"zone_id" json:"ZoneID"`
	ZoneName    string   `yaml:"zone_name" json:"ZoneName"`
	Email       string   `yaml:"email" json:"Email"`
	Domains     []string `yaml:"domains" json:"Domains"`
	DomainIPv6s []string `yaml:"domainipv6s" json:"DomainIPv6s"`
}

// SpeedTestSettings holds the probe parameters handed to the probe binary.
type SpeedTestSettings struct {
	Routines     int    `yaml:"routines" json:"Routines"`
	PingTimes    int    `yaml:"ping_times" json:"PingTimes"`
	TestCount    int    `yaml:"test_count" json:"TestCount"`
	DownloadTime int    `yaml:"download_time" json:"DownloadTime"` // seconds
	TCPPort      int    `yaml:"tcp_port" json:"TCPPort"`
	SpeedTestURL string `yaml:"speed_test_url" json:"SpeedTestURL"`

	Httping           bool   `yaml:"httping" json:"Httping"`
	HttpingStatusCode int    `yaml:"httping_status_code" json:"HttpingStatusCode"`
	HttpingCFColo     string `yaml:"httping_cf_colo" json:"HttpingCFColo"`

	MaxDelay    int     `yaml:"max_delay" json:"MaxDelay"` // ms
	MinDelay    int     `yaml:"min_delay" json:"MinDelay"` // ms
	MaxLossRate float64 `yaml:"max_loss_rate" json:"MaxLossRate"`
	MinSpeed    float64 `yaml:"min_speed" json:"MinSpeed"` // MB/s

	PrintNum int      `yaml:"print_num" json:"PrintNum"`
	IPv4File string   `yaml:"ipv4_file" json:"IPv4File"`
	IPv6File string   `yaml:"ipv6_file" json:"IPv6File"`
	TestType TestType `yaml:"test_type" json:"TestType"`
	Output   string   `yaml:"output" json:"Output"`

	DisableDownload bool `yaml:"disable_download" json:"DisableDownload"`
	TestAllIP       bool `yaml:"test_all_ip" json:"TestAllIP"`
}

// Load-time fallbacks for fields a stored record may leave at zero.
const (
	DefaultRoutines     = 200
	DefaultPingTimes    = 4
	DefaultTestCount    = 10
	DefaultDownloadTime = 10
	DefaultTCPPort      = 443
	DefaultMaxDelay     = 200
	DefaultMaxLossRate  = 0.2
)

const (
	defaultSpeedTestURL = "https://speedtest.ayaoblog.space/file.mp4"
	defaultIPv4File     = "ip.txt"
	defaultIPv6File     = "ipv6.txt"
)

// NewDefaultRecord returns the record written for a freshly created configuration.
func NewDefaultRecord() Record {
	return Record{
		SpeedTest: SpeedTestSettings{
			Routines:          DefaultRoutines,
			PingTimes:         DefaultPingTimes,
			TestCount:         DefaultTestCount,
			DownloadTime:      DefaultDownloadTime,
			TCPPort:           DefaultTCPPort,
			SpeedTestURL:      defaultSpeedTestURL,
			HttpingStatusCode: 200,
			MaxDelay:          9999,
			MinDelay:          0,
			MaxLossRate:       1,
			MinSpeed:          0,
			PrintNum:          10,
			IPv4File:          defaultIPv4File,
			IPv6File:          defaultIPv6File,
			TestType:          TestTypeIPv4,
			Output:            "result.csv",
		},
	}
}

// ApplyLoadDefaults returns a copy of r with zero-valued core probe parameters
// replaced by their fallbacks. MinDelay and MinSpeed are valid at zero and are
// left alone.
func ApplyLoadDefaults(r Record) Record {
	out := r.Clone()
	st := &out.SpeedTest
	if st.Routines == 0 {
		st.Routines = DefaultRoutines
	}
	if st.PingTimes == 0 {
		st.PingTimes = DefaultPingTimes
	}
	if st.TestCount == 0 {
		st.TestCount = DefaultTestCount
	}
	if st.DownloadTime == 0 {
		st.DownloadTime = DefaultDownloadTime
	}
	if st.TCPPort == 0 {
		st.TCPPort = DefaultTCPPort
	}
	if st.MaxDelay == 0 {
		st.MaxDelay = DefaultMaxDelay
	}
	if st.MaxLossRate == 0 {
		st.MaxLossRate = DefaultMaxLossRate
	}
	return out
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	out.Cloudflare.Domains = cloneStrings(r.Cloudflare.Domains)
	out.Cloudflare.DomainIPv6s = cloneStrings(r.Cloudflare.DomainIPv6s)
	return out
}

// WithSpeedTest returns a copy of r with its speed test group replaced.
func (r Record) WithSpeedTest(st SpeedTestSettings) Record {
	out := r.Clone()
	out.SpeedTest = st
	return out
}

// WithCloudflare returns a copy of r with its Cloudflare group replaced.
func (r Record) WithCloudflare(cf CloudflareSettings) Record {
	out := r.Clone()
	out.Cloudflare = cf
	out.Cloudflare.Domains = cloneStrings(cf.Domains)
	out.Cloudflare.DomainIPv6s = cloneStrings(cf.DomainIPv6s)
	return out
}

// EffectiveTestType normalizes the stored selector; empty means IPv4.
func (r Record) EffectiveTestType() TestType {
	if TestType(strings.ToUpper(string(r.SpeedTest.TestType))) == TestTypeIPv6 {
		return TestTypeIPv6
	}
	return TestTypeIPv4
}

// ProbeFile returns the candidate source file for the record's test type.
func (r Record) ProbeFile() string {
	if r.EffectiveTestType() == TestTypeIPv6 {
		if r.SpeedTest.IPv6File == "" {
			return defaultIPv6File
		}
		return r.SpeedTest.IPv6File
	}
	if r.SpeedTest.IPv4File == "" {
		return defaultIPv4File
	}
	return r.SpeedTest.IPv4File
}

// TargetDomains returns the domains the record's test type updates.
func (r Record) TargetDomains() []string {
	if r.EffectiveTestType() == TestTypeIPv6 {
		return cloneStrings(r.Cloudflare.DomainIPv6s)
	}
	return cloneStrings(r.Cloudflare.Domains)
}

// Validate reports values the probe binary would reject.
func (r Record) Validate() error {
	st := r.SpeedTest
	if st.MaxLossRate < 0 || st.MaxLossRate > 1 {
		return fmt.Errorf("%w: max loss rate %.2f outside [0,1]", ErrValidation, st.MaxLossRate)
	}
	if st.TCPPort < 0 || st.TCPPort > 65535 {
		return fmt.Errorf("%w: tcp port %d out of range", ErrValidation, st.TCPPort)
	}
	switch TestType(strings.ToUpper(string(st.TestType))) {
	case "", TestTypeIPv4, TestTypeIPv6:
	default:
		return fmt.Errorf("%w: unknown test type %q", ErrValidation, st.TestType)
	}
	if st.MinDelay < 0 || st.MaxDelay < 0 {
		return fmt.Errorf("%w: delay thresholds must be non-negative", ErrValidation)
	}
	if st.MaxDelay > 0 && st.MinDelay > st.MaxDelay {
		return fmt.Errorf("%w: min delay %d exceeds max delay %d", ErrValidation, st.MinDelay, st.MaxDelay)
	}
	return nil
}

// HasConfigExt reports whether name carries a recognized configuration extension.
func HasConfigExt(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// NormalizeName trims a user-supplied name and appends ".yaml" when it lacks
// a recognized extension. An all-blank name stays empty.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || HasConfigExt(name) {
		return name
	}
	return name + ".yaml"
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
