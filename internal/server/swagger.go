package server

//go:generate swag init -g internal/server/server.go -o docs/swagger

// @title Kansa API
// @version 0.1
// @description Interactive documentation for the Kansa scan engine API surface.
// @contact.name Kansa Maintainers
// @contact.url https://github.com/raysh454/kansa
// @BasePath /
