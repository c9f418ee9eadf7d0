package geoip

import (
	"net"

	"github.com/oschwald/maxminddb-golang"
	"go.uber.org/zap"
)

// Resolver maps client IPs to ISO country codes. A Resolver without a
// database answers every lookup with "".
type Resolver struct {
	db *maxminddb.Reader
}

type geoResult struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

func New(dbPath string, logger *zap.Logger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dbPath == "" {
		return &Resolver{}, nil
	}
	db, err := maxminddb.Open(dbPath)
	if err != nil {
		logger.Warn("geoip: failed to open database, country breakdown disabled",
			zap.String("path", dbPath), zap.Error(err))
		return &Resolver{}, nil
	}
	logger.Info("geoip: loaded database", zap.String("path", dbPath))
	return &Resolver{db: db}, nil
}

func (r *Resolver) Country(ipStr string) string {
	if r == nil || r.db == nil || ipStr == "" {
		return ""
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ""
	}
	var result geoResult
	if err := r.db.Lookup(ip, &result); err != nil {
		return ""
	}
	return result.Country.ISOCode
}

func (r *Resolver) Close() error {
	if r != nil && r.db != nil {
		return r.db.Close()
	}
	return nil
}
