package probe

import (
	"strconv"

	"autocdn/internal/core"
)

// BuildArgs renders rec as CloudflareST command-line flags for the given
// source file and result path.
func BuildArgs(rec core.Record, ipFile, output string) []string {
	st := rec.SpeedTest
	args := []string{
		"-n", strconv.Itoa(st.Routines),
		"-t", strconv.Itoa(st.PingTimes),
		"-dn", strconv.Itoa(st.TestCount),
		"-dt", strconv.Itoa(st.DownloadTime),
		"-tp", strconv.Itoa(st.TCPPort),
		"-tl", strconv.Itoa(st.MaxDelay),
		"-tll", strconv.Itoa(st.MinDelay),
		"-tlr", strconv.FormatFloat(st.MaxLossRate, 'f', -1, 64),
		"-sl", strconv.FormatFloat(st.MinSpeed, 'f', -1, 64),
		"-f", ipFile,
		"-o", output,
	}
	if st.SpeedTestURL != "" {
		args = append(args, "-url", st.SpeedTestURL)
	}
	if st.PrintNum > 0 {
		args = append(args, "-p", strconv.Itoa(st.PrintNum))
	}
	if st.Httping {
		args = append(args, "-httping")
		if st.HttpingStatusCode > 0 {
			args = append(args, "-httping-code", strconv.Itoa(st.HttpingStatusCode))
		}
		if st.HttpingCFColo != "" {
			args = append(args, "-cfcolo", st.HttpingCFColo)
		}
	}
	if st.DisableDownload {
		args = append(args, "-dd")
	}
	if st.TestAllIP {
		args = append(args, "-allip")
	}
	return args
}
