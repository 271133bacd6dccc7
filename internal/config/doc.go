/*
Package config loads the ldapfs configuration.

Configuration is assembled in layers, later layers winning:

	┌─────────────────────────────────────────────┐
	│        Command line (--mountpoint, --debug) │ ← Highest Priority
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Environment Variables (LDAPFS_*)     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Configuration File (YAML)            │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Default Values (NewDefault)          │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# Example

	global:
	  log_level: INFO
	  log_file: /var/log/ldapfs.log
	  log_levels: "resolver:DEBUG,directory:WARN"
	mount:
	  mount_point: /mnt/ldap
	  allow_other: true
	network:
	  timeouts:
	    connect: 2s
	    request: 10s
	monitoring:
	  metrics:
	    enabled: true
	    port: 9108
	  health:
	    enabled: true
	    interval: 1m
	hosts:
	  ldap1:
	    address: ldap1.example.com
	    bind_dn: cn=reader,dc=example,dc=com
	    base_dns:
	      - dc=example,dc=com

Every host must list at least one base DN. Base DNs become the second path
component under the host directory, so they must parse as DNs and must not
contain "/". Bind passwords can be supplied through LDAPFS_BIND_PASSWORD_<HOST>
with the host name upper-cased and "-" or "." replaced by "_".

Validate collects every problem into a single CONFIG_VALIDATION error.
*/
package config
