// cmd/mirapipe/main.go
// mirapipe - TCP/TLS port scanner and mutual-TLS message channel

package main

func main() {
	Execute()
}
