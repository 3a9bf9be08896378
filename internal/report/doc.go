// Package report собирает документ с итогами run и отправляет его в сервис отчётов.
package report
