// Package artifact хранит артефакты run: собранный пакет и отчёты тестов.
//
// Раскладка ключей:
//
//	runs/<run-id>/dist/<file>
//	runs/<run-id>/reports/<config-key>/<file>
//
// Content type объектов определяется по содержимому (mimetype), а не по расширению.
package artifact
