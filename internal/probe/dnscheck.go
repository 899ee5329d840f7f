package probe

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/hamed0406/uptimebatch/internal/domain"
)

type DNSClass string

const (
	DNSResolves    DNSClass = "RESOLVES"
	DNSNXDomain    DNSClass = "NXDOMAIN"
	DNSNoARecord   DNSClass = "NO_A_RECORD"
	DNSServfail    DNSClass = "SERVFAIL_or_TIMEOUT"
	DNSInvalidName DNSClass = "INVALID_NAME"
)

type DNSStatus struct {
	Domain        string
	HasAOrAAAA    bool
	IPs           []net.IP
	HasNS         bool
	Nameservers   []string
	Class         DNSClass
	ResolverError string
}

// Resolver is the subset of *net.Resolver used for diagnosis.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
}

var dnsTimeout = 3 * time.Second

// CheckDNS classifies how host resolves. It is only used to explain network
// failures, never to decide reachability.
func CheckDNS(ctx context.Context, r Resolver, host string) DNSStatus {
	s := DNSStatus{Domain: strings.TrimSpace(host)}
	if s.Domain == "" || strings.Contains(s.Domain, "://") {
		s.Class = DNSInvalidName
		return s
	}
	if r == nil {
		r = net.DefaultResolver
	}

	ctx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	ips, err := r.LookupIP(ctx, "ip", s.Domain)
	switch {
	case err == nil && len(ips) > 0:
		s.HasAOrAAAA = true
		s.IPs = ips
		s.Class = DNSResolves
	case err != nil:
		s.ResolverError = err.Error()
		var de *net.DNSError
		if errors.As(err, &de) {
			if de.IsNotFound {
				s.Class = DNSNXDomain
			} else if de.IsTemporary || de.Timeout() {
				s.Class = DNSServfail
			}
		}
	}

	if ns, err := r.LookupNS(ctx, s.Domain); err == nil && len(ns) > 0 {
		s.HasNS = true
		for _, n := range ns {
			s.Nameservers = append(s.Nameservers, strings.TrimSuffix(n.Host, "."))
		}
		if s.Class == DNSNXDomain {
			s.Class = DNSNoARecord
		}
	}

	if s.Class == "" {
		switch {
		case s.HasNS:
			s.Class = DNSNoARecord
		case s.ResolverError != "":
			s.Class = DNSServfail
		default:
			s.Class = DNSNXDomain
		}
	}
	return s
}

// DiagnosingChecker annotates network failures of Inner with the DNS class
// of the target host.
type DiagnosingChecker struct {
	Inner    Checker
	Resolver Resolver
}

func (d *DiagnosingChecker) Check(ctx context.Context, target string) CheckResult {
	out := d.Inner.Check(ctx, target)
	if out.ErrorKind != domain.ErrorNetwork || ctx.Err() != nil {
		return out
	}
	dns := CheckDNS(ctx, d.Resolver, hostOf(target))
	out.Message = strings.TrimSpace(out.Message + " dns=" + string(dns.Class))
	return out
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}
