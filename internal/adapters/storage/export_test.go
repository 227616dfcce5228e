package storage

import "context"

// ExecRaw permite a los tests escribir filas que la API pública no produce.
func ExecRaw(s *SQLiteStorage, q string, args ...any) error {
	_, err := s.db.ExecContext(context.Background(), q, args...)
	return err
}
