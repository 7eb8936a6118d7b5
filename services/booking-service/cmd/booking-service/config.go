package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/tenantbook/libs/config"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/booking"
)

const (
	driverMemory   = "memory"
	driverPostgres = "postgres"
)

type settings struct {
	Service  string
	Port     string
	GRPCPort string

	StoreDriver string
	DatabaseURL string
	SeedFile    string

	RedisAddr     string
	RedisPassword string
	KafkaBrokers  []string

	HolidayAPIURL       string
	HolidayAPIClientID  string
	HolidayRegions      []string
	HolidayFetchTimeout time.Duration
	HolidayFetchRetries int
	HolidayCooldown     time.Duration
	HolidayCacheTTL     time.Duration
	HolidayRefreshEvery time.Duration
	HolidayFallbackFile string

	LeadTime         time.Duration
	GuestCutoff      time.Duration
	AssignmentPolicy string
	TenantCacheTTL   time.Duration

	JWTSecret          string
	RateLimitPerMinute int
	CORSOrigins        []string
	RequestTimeout     time.Duration
}

func loadSettings() (settings, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	s := settings{
		Service:             config.String("SERVICE_NAME", "booking-service"),
		StoreDriver:         strings.ToLower(config.String("STORE_DRIVER", driverPostgres)),
		SeedFile:            config.String("SEED_FILE", ""),
		RedisAddr:           config.String("REDIS_ADDR", ""),
		RedisPassword:       config.String("REDIS_PASSWORD", ""),
		KafkaBrokers:        config.List("KAFKA_BROKERS"),
		HolidayAPIURL:       config.String("HOLIDAY_API_URL", ""),
		HolidayAPIClientID:  config.String("HOLIDAY_API_CLIENT_ID", ""),
		HolidayRegions:      config.List("HOLIDAY_REGIONS"),
		HolidayFallbackFile: config.String("HOLIDAY_FALLBACK_FILE", ""),
		AssignmentPolicy:    config.String("ASSIGNMENT_POLICY", booking.PolicyLeastLoaded),
		JWTSecret:           config.String("AUTH_JWT_SECRET", ""),
		CORSOrigins:         config.List("CORS_ALLOWED_ORIGINS"),
	}
	if len(s.HolidayRegions) == 0 {
		s.HolidayRegions = []string{"TH"}
	}

	var err error
	s.Port, err = config.Port("PORT", "8083")
	collect(err)
	s.GRPCPort, err = config.Port("GRPC_PORT", "9093")
	collect(err)
	s.HolidayFetchTimeout, err = config.Duration("HOLIDAY_FETCH_TIMEOUT", 3*time.Second)
	collect(err)
	s.HolidayFetchRetries, err = config.Int("HOLIDAY_FETCH_RETRIES", 3)
	collect(err)
	s.HolidayCooldown, err = config.Duration("HOLIDAY_FETCH_COOLDOWN", time.Minute)
	collect(err)
	s.HolidayCacheTTL, err = config.Duration("HOLIDAY_CACHE_TTL", 24*time.Hour)
	collect(err)
	s.HolidayRefreshEvery, err = config.Duration("HOLIDAY_REFRESH_INTERVAL", time.Hour)
	collect(err)
	leadMinutes, err := config.Int("MIN_LEAD_TIME_MINUTES", 0)
	collect(err)
	s.LeadTime = time.Duration(leadMinutes) * time.Minute
	s.GuestCutoff, err = config.Duration("GUEST_CHANGE_CUTOFF", 4*time.Hour)
	collect(err)
	s.TenantCacheTTL, err = config.Duration("TENANT_CACHE_TTL", 30*time.Second)
	collect(err)
	s.RateLimitPerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 120)
	collect(err)
	s.RequestTimeout, err = config.Duration("REQUEST_TIMEOUT", 10*time.Second)
	collect(err)

	switch s.StoreDriver {
	case driverMemory:
		if s.SeedFile == "" {
			collect(errors.New("SEED_FILE is required with STORE_DRIVER=memory"))
		}
	case driverPostgres:
		s.DatabaseURL, err = config.RequiredString("DATABASE_URL")
		collect(err)
	default:
		collect(fmt.Errorf("STORE_DRIVER must be %q or %q (got %q)", driverMemory, driverPostgres, s.StoreDriver))
	}
	if s.HolidayFetchRetries < 1 {
		collect(errors.New("HOLIDAY_FETCH_RETRIES must be at least 1"))
	}
	if s.GuestCutoff < 0 {
		collect(errors.New("GUEST_CHANGE_CUTOFF must not be negative"))
	}
	if leadMinutes < 0 {
		collect(errors.New("MIN_LEAD_TIME_MINUTES must not be negative"))
	}
	return s, errors.Join(errs...)
}
