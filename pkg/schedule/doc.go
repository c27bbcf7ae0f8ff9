// Package schedule provides schedules for recurring command lines.
//
// Every, Daily, Weekly and Cron build schedules in code; ParseSpec reads
// the textual form used in configuration files.
package schedule
