// Package security é o middleware de proteção de borda do gateway:
// scan de padrões de ataque em path/query/headers, rejeição de scanners
// conhecidos, teto de tamanho de request, headers de segurança na resposta e
// blocklist em memória de IPs reincidentes.
package security
