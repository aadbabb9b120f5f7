package queue

func init() {
	RegisterBackend("memory", newMemoryBackend)
	RegisterBackend("sqlite", newSQLiteBackend)
}
