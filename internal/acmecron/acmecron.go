// Package acmecron drives periodic ACME issuance/renewal for the
// orchestrator's production domain on a cron schedule, the same
// cron.New/AddFunc/Start wiring used elsewhere in the ecosystem for
// scheduled background refreshes.
package acmecron

import (
	"github.com/robfig/cron/v3"

	"github.com/nilsbr/rushd/internal/acmeclient"
	"github.com/nilsbr/rushd/internal/logger"
)

// DefaultSchedule runs once a day at 03:17, well clear of Let's Encrypt's
// renewal reminder window and off the hour to avoid thundering-herd load
// on shared cron infrastructure.
const DefaultSchedule = "17 3 * * *"

// Scheduler periodically re-obtains the configured domain's certificate.
type Scheduler struct {
	cron       *cron.Cron
	client     *acmeclient.Client
	domain     string
	subdomains []string
	log        logger.Logger
}

// New builds a Scheduler that renews domain (plus subdomains) on schedule
// (a standard 5-field cron expression; DefaultSchedule if empty).
func New(client *acmeclient.Client, domain string, subdomains []string, schedule string, log logger.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	s := &Scheduler{
		cron:       cron.New(),
		client:     client,
		domain:     domain,
		subdomains: subdomains,
		log:        log,
	}

	if _, err := s.cron.AddFunc(schedule, s.renew); err != nil {
		log.Warn("invalid acme cron schedule, renewals disabled",
			logger.String("schedule", schedule), logger.Error(err))
	}

	return s
}

func (s *Scheduler) renew() {
	if err := s.client.Obtain(s.domain, s.subdomains); err != nil {
		s.log.Warn("scheduled acme renewal failed",
			logger.String("domain", s.domain), logger.Error(err))
		return
	}
	s.log.Info("acme certificate renewed", logger.String("domain", s.domain))
}

// Start runs an immediate issuance attempt in the background (so startup
// never blocks on a slow ACME handshake) and starts the cron scheduler.
func (s *Scheduler) Start() {
	go s.renew()
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
