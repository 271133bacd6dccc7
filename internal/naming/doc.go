/*
Package naming maps filesystem paths to LDAP distinguished names and back.

A mounted path has the shape

	/<host>/<base scope>/<rdn>/<rdn>/.../<attribute>

where the host and base scope come from configuration. Components from the
base scope onward are the DN parts; reversing them and joining with ","
yields the DN, so

	/ldap1/dc=example,dc=com/ou=people/cn=alice

names cn=alice,ou=people,dc=example,dc=com on host ldap1.

A "/" inside an RDN value cannot appear in a filename, so it is replaced by
SeparatorToken when listing and restored when building a DN.
*/
package naming
