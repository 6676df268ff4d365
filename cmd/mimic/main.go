// Command mimic sends HTTP requests that look like they came from a real
// browser: TLS and HTTP/2 fingerprint, default headers and header order.
package main

func main() {
	Execute()
}
