// Package retention prunes old audit records on a cron schedule
// (github.com/robfig/cron/v3). Records can be archived as JSON lines before
// they are deleted.
package retention
