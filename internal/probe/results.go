package probe

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
)

// Assignment pairs a domain with the address it should resolve to.
type Assignment struct {
	Domain string
	IP     string
}

// ReadResultIPs returns the addresses listed in a CloudflareST result CSV,
// best first. Rows whose first column is not an IP (the header) are skipped.
func ReadResultIPs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open results: %w", err)
	}
	defer f.Close()
	return parseResultIPs(f)
}

func parseResultIPs(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	var ips []string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse results: %w", err)
		}
		if len(row) == 0 {
			continue
		}
		field := strings.TrimSpace(strings.TrimPrefix(row[0], "\ufeff"))
		addr, err := netip.ParseAddr(field)
		if err != nil {
			continue
		}
		ips = append(ips, addr.String())
	}
	return ips, nil
}

// AssignIPs pairs each domain with the next best address. It fails when there
// are fewer addresses than domains.
func AssignIPs(ips, domains []string) ([]Assignment, error) {
	if len(ips) < len(domains) {
		return nil, fmt.Errorf("only %d usable addresses for %d domains", len(ips), len(domains))
	}
	out := make([]Assignment, len(domains))
	for i, domain := range domains {
		out[i] = Assignment{Domain: domain, IP: ips[i]}
	}
	return out, nil
}
