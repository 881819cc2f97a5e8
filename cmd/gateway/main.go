// Command gateway é o reverse proxy de admissão na frente do app de redações:
// identidade, headers de segurança, rate limit por classe de endpoint e CSRF.
package main

func main() {
	Execute()
}
